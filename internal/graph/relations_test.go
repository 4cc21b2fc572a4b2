package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

func chunk(page, line int) domain.SourceChunk {
	return domain.SourceChunk{Text: "t", Page: page, Line: line}
}

func TestBuild_WindowAndPages(t *testing.T) {
	chunks := []domain.SourceChunk{
		chunk(1, 1), // 0
		chunk(1, 2), // 1
		chunk(1, 3), // 2
		chunk(2, 2), // 3
	}
	rel := Build(chunks, 1)

	assert.Equal(t, []int{1}, rel.Neighbors(0))
	assert.Equal(t, []int{0, 2}, rel.Neighbors(1))
	assert.Equal(t, []int{1}, rel.Neighbors(2))
	// Neighbors never cross pages.
	assert.Empty(t, rel.Neighbors(3))
	assert.Len(t, rel, 4)
}

func TestBuild_SortsByLineWithinPage(t *testing.T) {
	chunks := []domain.SourceChunk{
		chunk(1, 5), // 0
		chunk(1, 3), // 1
		chunk(1, 4), // 2
	}
	rel := Build(chunks, 2)

	// Left walk from line 5 visits 4 then 3.
	assert.Equal(t, []int{2, 1}, rel.Neighbors(0))
	assert.Equal(t, []int{2, 0}, rel.Neighbors(1))
	assert.Equal(t, []int{1, 0}, rel.Neighbors(2))
}

func TestBuild_HaltsAtFirstOutOfWindow(t *testing.T) {
	chunks := []domain.SourceChunk{
		chunk(1, 1),  // 0
		chunk(1, 2),  // 1
		chunk(1, 10), // 2
		chunk(1, 11), // 3
	}
	rel := Build(chunks, 2)

	assert.Equal(t, []int{1}, rel.Neighbors(0))
	assert.Equal(t, []int{0}, rel.Neighbors(1))
	assert.Equal(t, []int{3}, rel.Neighbors(2))
	assert.Equal(t, []int{2}, rel.Neighbors(3))
}

func TestBuild_Symmetric(t *testing.T) {
	chunks := []domain.SourceChunk{
		chunk(1, 1), chunk(1, 1), chunk(1, 2), chunk(1, 4),
		chunk(1, 5), chunk(2, 1), chunk(2, 3), chunk(1, 7),
	}
	for _, window := range []int{0, 1, 2, 3} {
		rel := Build(chunks, window)
		for a, ns := range rel {
			for _, b := range ns {
				require.Contains(t, rel.Neighbors(b), a, "window %d: %d -> %d not mirrored", window, a, b)
				assert.Equal(t, chunks[a].Page, chunks[b].Page)
			}
		}
	}
}

func TestBuildPageIndex(t *testing.T) {
	pages := BuildPageIndex([]domain.SourceChunk{chunk(2, 1), chunk(1, 1), chunk(2, 2)})
	assert.Equal(t, PageIndex{1: {1}, 2: {0, 2}}, pages)
}
