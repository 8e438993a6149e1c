package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	original := Cursor{CreatedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC), ID: 42}
	decoded, err := Decode(original.Encode())
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, uint64(42), decoded.ID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not base64 !!")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	cursor, err := Decode("  ")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestParseLimit(t *testing.T) {
	limit, err := ParseLimit("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, limit)

	limit, err = ParseLimit("500")
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, limit)

	_, err = ParseLimit("-1")
	assert.Error(t, err)
}

func TestBuildTrimsExtraRow(t *testing.T) {
	rows := []int{5, 4, 3}
	page := Build(rows, 2, func(v int) Cursor { return Cursor{ID: uint64(v)} })
	assert.Equal(t, []int{5, 4}, page.Items)
	assert.True(t, page.HasMore)

	next, err := Decode(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next.ID)

	last := Build([]int{1}, 2, func(v int) Cursor { return Cursor{ID: uint64(v)} })
	assert.False(t, last.HasMore)
	assert.Empty(t, last.NextCursor)
}
