package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulatorAppendsUniquePages(t *testing.T) {
	var acc Accumulator[int]

	first := Page[int]{Items: []int{1, 2}, NextCursor: "c1", HasMore: true}
	second := Page[int]{Items: []int{3, 4}, NextCursor: "c2", HasMore: true}

	assert.Equal(t, []int{1, 2}, acc.Load("assistant-1", "", first))
	assert.Equal(t, []int{1, 2, 3, 4}, acc.Load("assistant-1", "c1", second))

	// The first page arriving again (e.g. a re-render) must not be duplicated.
	assert.Equal(t, []int{1, 2, 3, 4}, acc.Load("assistant-1", "", first))
	assert.Equal(t, []int{1, 2, 3, 4}, acc.Load("assistant-1", "c1", second))

	next, more := acc.NextCursor()
	assert.Equal(t, "c2", next)
	assert.True(t, more)
}

func TestAccumulatorResetsWhenFilterChanges(t *testing.T) {
	var acc Accumulator[string]

	acc.Load("assistant-1", "", Page[string]{Items: []string{"a", "b"}, NextCursor: "x", HasMore: true})
	acc.Load("assistant-1", "x", Page[string]{Items: []string{"c"}})

	got := acc.Load("assistant-2", "", Page[string]{Items: []string{"z"}})
	assert.Equal(t, []string{"z"}, got)

	next, more := acc.NextCursor()
	assert.Empty(t, next)
	assert.False(t, more)
}

func TestAccumulatorResetClearsItems(t *testing.T) {
	var acc Accumulator[int]
	acc.Load("", "", Page[int]{Items: []int{1}})
	acc.Reset("other")
	assert.Empty(t, acc.Items())
}

func TestAccumulatorSnapshotIsCopy(t *testing.T) {
	var acc Accumulator[int]
	items := acc.Load("", "", Page[int]{Items: []int{1, 2}})
	items[0] = 99
	assert.Equal(t, []int{1, 2}, acc.Items())
}
