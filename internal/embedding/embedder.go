// Package embedding holds what embedding providers share.
package embedding

import "errors"

// ErrEmptyBatch is returned by providers asked to embed zero texts.
var ErrEmptyBatch = errors.New("embedding: empty batch")

// ToFloat32 narrows a provider vector to the precision stores use.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
