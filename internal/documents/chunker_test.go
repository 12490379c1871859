package documents

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reconstruct drops the overlapping prefix of every span after the first.
func reconstruct(text string, spans []Span) string {
	runes := []rune(text)
	var b strings.Builder
	prevEnd := 0
	for _, s := range spans {
		from := max(s.Start, prevEnd)
		b.WriteString(string(runes[from:s.End]))
		prevEnd = s.End
	}
	return b.String()
}

func TestChunker_ReconstructsText(t *testing.T) {
	paragraph := "The quick brown fox jumps over the lazy dog. It was not amused!\n"
	texts := map[string]string{
		"prose":      strings.Repeat(paragraph, 40),
		"paragraphs": strings.Repeat("A short paragraph here.\n\n", 60),
		"no breaks":  strings.Repeat("x", 5000),
		"cjk":        strings.Repeat("猫在窗台上睡觉。阳光很好！", 120),
		"short":      "tiny",
	}
	for name, text := range texts {
		for _, cfg := range [][2]int{{100, 20}, {256, 0}, {1024, 200}, {50, 49}} {
			c := NewChunker(cfg[0], cfg[1])
			spans := c.Split(text)
			require.NotEmpty(t, spans, name)
			assert.Equal(t, text, reconstruct(text, spans), "%s size=%d overlap=%d", name, cfg[0], cfg[1])

			assert.Equal(t, 0, spans[0].Start)
			assert.Equal(t, len([]rune(text)), spans[len(spans)-1].End)
			for i := 1; i < len(spans); i++ {
				assert.LessOrEqual(t, spans[i].Start, spans[i-1].End, "gap before span %d", i)
				assert.Greater(t, spans[i].Start, spans[i-1].Start, "no progress at span %d", i)
			}
		}
	}
}

func TestChunker_Deterministic(t *testing.T) {
	text := strings.Repeat("Sentence one. Sentence two!\n", 200)
	c := NewChunker(300, 50)
	assert.Equal(t, c.Split(text), c.Split(text))
}

func TestChunker_PrefersParagraphBreak(t *testing.T) {
	first := strings.Repeat("a", 90)
	text := first + "\n\n" + strings.Repeat("b", 200)
	c := NewChunker(100, 0)

	spans := c.Split(text)
	require.GreaterOrEqual(t, len(spans), 2)
	assert.Equal(t, 92, spans[0].End)
}

func TestChunker_PrefersSentenceOverHardCut(t *testing.T) {
	text := strings.Repeat("w", 85) + "." + strings.Repeat("z", 200)
	c := NewChunker(100, 0)

	spans := c.Split(text)
	require.GreaterOrEqual(t, len(spans), 2)
	assert.Equal(t, 86, spans[0].End)
}

func TestChunker_HardCutOutsideTolerance(t *testing.T) {
	text := "a." + strings.Repeat("z", 300)
	c := NewChunker(100, 0)

	spans := c.Split(text)
	assert.Equal(t, 100, spans[0].End)
}

func TestChunker_Overlap(t *testing.T) {
	text := strings.Repeat("z", 250)
	spans := NewChunker(100, 10).Split(text)

	require.Len(t, spans, 3)
	assert.Equal(t, Span{0, 100}, spans[0])
	assert.Equal(t, Span{90, 190}, spans[1])
	assert.Equal(t, Span{180, 250}, spans[2])
}

func TestChunker_Empty(t *testing.T) {
	assert.Empty(t, NewChunker(100, 10).Split(""))
}

func TestNewChunker_ClampsOverlap(t *testing.T) {
	c := NewChunker(100, 500)
	assert.Equal(t, 20, c.overlap)

	c = NewChunker(0, -1)
	assert.Equal(t, 1024, c.size)
	assert.Equal(t, 0, c.overlap)
}

func TestNormalize(t *testing.T) {
	in := "  Title  \r\n\r\n\r\n\r\nBody\x00 text   \rnext\n\n\n"
	assert.Equal(t, "Title\n\nBody text\nnext", Normalize(in))
}
