package service

import (
	"fmt"
	"math"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/graph"
	"docrag/internal/vectorstore"
)

const (
	// neighborDecay controls how fast a neighbor's weight falls off with line distance.
	neighborDecay = 0.3
	totalEpsilon  = 1e-9
)

// retrieval holds the per-query expansion settings after defaults are applied.
type retrieval struct {
	includeRelations bool
	window           int
	maxGroupItems    int
}

type aggregation struct {
	contributions []domain.Contribution
	context       string
}

// aggregate turns ranked hits into attributed groups and the grounding context.
// A chunk is attributed at most once per query: seeds already pulled in as
// an earlier seed's neighbor are skipped.
func aggregate(chunks []domain.SourceChunk, rel graph.Relations, hits []vectorstore.Hit, p retrieval) aggregation {
	used := make(map[int]struct{}, len(hits))
	contributions := make([]domain.Contribution, 0, len(hits))
	blocks := make([]string, 0, len(hits))
	total := 0.0

	for _, hit := range hits {
		if hit.Index < 0 || hit.Index >= len(chunks) {
			continue
		}
		if _, ok := used[hit.Index]; ok {
			continue
		}
		used[hit.Index] = struct{}{}
		seed := chunks[hit.Index]
		weight := hit.Score
		related := []domain.RelatedItem{}

		if p.includeRelations {
			for _, n := range rel.Neighbors(hit.Index) {
				if _, ok := used[n]; ok {
					continue
				}
				nb := chunks[n]
				delta := nb.Line - seed.Line
				if nb.Page != seed.Page || absInt(delta) > p.window {
					continue
				}
				w := math.Exp(-neighborDecay*float64(absInt(delta))) * hit.Score
				related = append(related, domain.RelatedItem{Page: nb.Page, Line: nb.Line, Score: w, Text: nb.Text})
				weight += w
				used[n] = struct{}{}
				if len(related) >= p.maxGroupItems {
					break
				}
			}
		}

		total += share(weight)
		contributions = append(contributions, domain.Contribution{
			Page:    seed.Page,
			Line:    seed.Line,
			Score:   weight,
			Text:    seed.Text,
			Related: related,
		})
		lines := make([]string, 0, len(related)+1)
		lines = append(lines, contextLine(seed.Page, seed.Line, seed.Text))
		for _, r := range related {
			lines = append(lines, contextLine(r.Page, r.Line, r.Text))
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	if total == 0 {
		total = totalEpsilon
	}
	for i := range contributions {
		// .5 rounds to the nearest even percentage.
		contributions[i].Percentage = int(math.RoundToEven(share(contributions[i].Score) / total * 100))
	}
	return aggregation{contributions: contributions, context: strings.Join(blocks, "\n\n")}
}

// share is a group's claim on the answer. Groups anti-aligned with the
// question claim nothing.
func share(weight float64) float64 {
	return math.Max(weight, 0)
}

func contextLine(page, line int, text string) string {
	return fmt.Sprintf("[Page %d, Line %d] %s", page, line, text)
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
