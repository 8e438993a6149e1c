package knowledgebase

import (
	"strings"
	"unicode"
)

// Chunk is one slice of a document ready for embedding.
type Chunk struct {
	Index  int
	Text   string
	Tokens int
}

// Splitter cuts text into chunks of at most maxChars runes, preferring to
// end a chunk on a sentence or line boundary once minChars is reached.
type Splitter struct {
	maxChars int
	minChars int
}

func NewSplitter(maxChars, minChars int) *Splitter {
	if maxChars <= 0 {
		maxChars = 800
	}
	if minChars <= 0 || minChars >= maxChars {
		minChars = maxChars / 2
	}
	return &Splitter{maxChars: maxChars, minChars: minChars}
}

// Split returns the chunks of text in order. Whitespace-only input yields nil.
func (s *Splitter) Split(text string) []Chunk {
	runes := []rune(strings.TrimSpace(cleanText(text)))
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	for start := 0; start < len(runes); {
		end := start + s.maxChars
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastBoundary(runes, start+s.minChars, end); cut > start {
			end = cut
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: piece, Tokens: estimateTokens(piece)})
		}
		start = end
	}
	return chunks
}

// cleanText normalizes newlines and collapses runs of blank lines and
// horizontal whitespace.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	blank := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank == 1 && b.Len() > 0 {
				b.WriteByte('\n')
			}
			continue
		}
		blank = 0
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func lastBoundary(runes []rune, min, max int) int {
	if max > len(runes) {
		max = len(runes)
	}
	for i := max - 1; i >= min && i >= 0; i-- {
		switch runes[i] {
		case '\n', '.', '!', '?', '。', '！', '？':
			return i + 1
		}
	}
	return max
}

// estimateTokens approximates the token count of text for prompt budgets.
func estimateTokens(text string) int {
	words := 0
	inWord := false
	runes := 0
	for _, r := range text {
		runes++
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	if estimate := runes / 4; estimate > words {
		return estimate
	}
	return words
}
