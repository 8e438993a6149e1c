package knowledgebase

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitterRespectsMaxChars(t *testing.T) {
	splitter := NewSplitter(100, 40)
	text := strings.Repeat("The council meets on Tuesday. ", 20)

	chunks := splitter.Split(text)
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), 100)
		assert.Positive(t, chunk.Tokens)
	}
	assert.True(t, strings.HasSuffix(chunks[0].Text, "."), chunks[0].Text)
}

func TestSplitterHandlesEdgeInput(t *testing.T) {
	splitter := NewSplitter(0, 0)
	assert.Nil(t, splitter.Split(" \n\r\n "))

	chunks := splitter.Split("short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)

	long := strings.Repeat("x", 2000)
	chunks = NewSplitter(500, 100).Split(long)
	require.Len(t, chunks, 4)
}

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b\n\nc", cleanText("a   b\r\n\r\n\r\n\tc"))
}
