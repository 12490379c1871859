package documents

import (
	"regexp"
	"strings"
	"unicode"
)

// Span is a half-open rune range [Start, End) of the normalized text.
type Span struct {
	Start int
	End   int
}

// Chunker cuts text into overlapping windows of at most size runes.
// Cuts prefer, in order, a paragraph break, a line break, a sentence
// terminator and whitespace within the last size/5 runes of the window.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker clamps overlap below size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1024
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split returns spans covering every rune of text. Consecutive spans
// overlap by at most the configured overlap and never leave a gap.
func (c *Chunker) Split(text string) []Span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var spans []Span
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			spans = append(spans, Span{Start: start, End: n})
			break
		}
		end = c.boundary(runes, start, end)
		spans = append(spans, Span{Start: start, End: end})

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	// a whitespace-only tail is folded into the previous span
	if k := len(spans); k > 1 && strings.TrimSpace(string(runes[spans[k-1].Start:spans[k-1].End])) == "" {
		spans[k-2].End = n
		spans = spans[:k-1]
	}
	return spans
}

var sentenceEnd = map[rune]bool{
	'.': true, '!': true, '?': true, ';': true,
	'。': true, '！': true, '？': true, '；': true,
}

func (c *Chunker) boundary(runes []rune, start, target int) int {
	lo := max(target-c.size/5, start+1)
	prefs := []func(i int) bool{
		func(i int) bool { return i >= 2 && runes[i-1] == '\n' && runes[i-2] == '\n' },
		func(i int) bool { return runes[i-1] == '\n' },
		func(i int) bool { return sentenceEnd[runes[i-1]] },
		func(i int) bool { return unicode.IsSpace(runes[i-1]) },
	}
	for _, match := range prefs {
		for i := target; i >= lo; i-- {
			if match(i) {
				return i
			}
		}
	}
	return target
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Normalize unifies line endings, drops NUL bytes, trims trailing spaces on
// each line and collapses runs of blank lines.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
