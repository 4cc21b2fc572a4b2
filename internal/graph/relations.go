// Package graph builds the same-page line adjacency used to expand retrieved
// chunks with their neighbors.
package graph

import (
	"sort"

	"docrag/internal/domain"
)

// Relations maps a chunk index to its neighbor indices in discovery order
// (nearest-left first, then nearest-right).
type Relations map[int][]int

// Neighbors returns the neighbor list of idx, or nil.
func (r Relations) Neighbors(idx int) []int {
	return r[idx]
}

// PageIndex maps a page number to the indices of its chunks in index order.
type PageIndex map[int][]int

// BuildPageIndex groups chunk indices by page.
func BuildPageIndex(chunks []domain.SourceChunk) PageIndex {
	pages := make(PageIndex)
	for i, c := range chunks {
		pages[c.Page] = append(pages[c.Page], i)
	}
	return pages
}

// Build derives the relation graph for chunks using the given line window.
// For every chunk the walk moves outward from its position in the page's
// line-sorted order and halts at the first chunk whose line distance exceeds
// window, so only the nearest contiguous run is collected. Every chunk gets an
// entry, possibly empty.
func Build(chunks []domain.SourceChunk, window int) Relations {
	rel := make(Relations, len(chunks))
	for _, idxs := range BuildPageIndex(chunks) {
		ordered := append([]int(nil), idxs...)
		sort.SliceStable(ordered, func(a, b int) bool {
			return chunks[ordered[a]].Line < chunks[ordered[b]].Line
		})
		for i, idx := range ordered {
			line := chunks[idx].Line
			neighbors := []int{}
			for j := i - 1; j >= 0 && abs(chunks[ordered[j]].Line-line) <= window; j-- {
				neighbors = append(neighbors, ordered[j])
			}
			for j := i + 1; j < len(ordered) && abs(chunks[ordered[j]].Line-line) <= window; j++ {
				neighbors = append(neighbors, ordered[j])
			}
			rel[idx] = neighbors
		}
	}
	return rel
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
