package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const wellFormed = "Let me look at the retrieved literature first.\n" +
	"## Answer\n" +
	"Metformin lowers hepatic glucose output [D1].\n" +
	"It remains first-line therapy [D2, D1].\n" +
	"\n" +
	"## References\n" +
	"1. Smith et al. 2019\n" +
	"2. Jones 2021\n"

const wellFormedAnswer = "Metformin lowers hepatic glucose output [D1].\n" +
	"It remains first-line therapy [D2, D1].\n"

func chunk(text string, size int) []string {
	var out []string
	runes := []rune(text)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func run(cfg Config, tokens []string) (string, *Filter) {
	f := NewFilter(cfg)
	var sb strings.Builder
	for _, tok := range tokens {
		for _, c := range f.Push(tok) {
			sb.WriteString(c)
		}
	}
	for _, c := range f.Close() {
		sb.WriteString(c)
	}
	return sb.String(), f
}

func TestFilter_ChunkingIdempotence(t *testing.T) {
	want := Apply(wellFormed, DefaultConfig())
	assert.Equal(t, wellFormedAnswer, want)

	for _, size := range []int{1, 2, 3, 4, 5, 7, 11, 13, 50, len(wellFormed)} {
		got, f := run(DefaultConfig(), chunk(wellFormed, size))
		assert.Equal(t, want, got, "chunk size %d", size)
		assert.Equal(t, want, f.Text(), "chunk size %d", size)
		assert.True(t, f.Terminated(), "chunk size %d", size)
		assert.Equal(t, StateDone, f.State())
	}
}

func TestFilter_LookaheadVariants(t *testing.T) {
	want := Apply(wellFormed, DefaultConfig())
	for _, lookahead := range []int{1, 2, 5, 10} {
		cfg := Config{Lookahead: lookahead, PreambleLimit: 100}
		got, _ := run(cfg, chunk(wellFormed, 3))
		assert.Equal(t, want, got, "lookahead %d", lookahead)
	}
}

func TestFilter_AnswerMarkerForms(t *testing.T) {
	tests := []struct {
		name   string
		marker string
	}{
		{name: "markdown heading", marker: "## Answer\n"},
		{name: "bold with colon", marker: "**Answer:**\n"},
		{name: "plain colon", marker: "Answer:\n"},
		{name: "lowercase h3", marker: "### answer\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "Thinking out loud.\n" + tt.marker + "Body text [D1].\n"
			got, f := run(DefaultConfig(), chunk(text, 2))
			assert.Equal(t, "Body text [D1].\n", got)
			assert.False(t, f.Terminated())
		})
	}
}

func TestFilter_TrailerForms(t *testing.T) {
	tests := []struct {
		name    string
		trailer string
	}{
		{name: "heading", trailer: "## References\n- a\n"},
		{name: "plain colon", trailer: "References:\n- a\n"},
		{name: "bold bibliography", trailer: "**Bibliography**\n- a\n"},
		{name: "sources", trailer: "Sources:\n- a\n"},
		{name: "heading at stream end", trailer: "## References"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "## Answer\nBody [D1].\n" + tt.trailer
			for _, size := range []int{1, 3, len(text)} {
				got, f := run(DefaultConfig(), chunk(text, size))
				assert.Equal(t, "Body [D1].", got, "chunk size %d", size)
				assert.True(t, f.Terminated(), "chunk size %d", size)
			}
		})
	}
}

func TestFilter_WordInsideSentenceIsNotTrailer(t *testing.T) {
	text := "## Answer\nThe sources of variation [D1] include dose.\nReferences to prior work are sparse.\n"
	got, f := run(DefaultConfig(), chunk(text, 2))
	assert.Equal(t, "The sources of variation [D1] include dose.\nReferences to prior work are sparse.\n", got)
	assert.False(t, f.Terminated())
}

func TestFilter_PreambleFallback(t *testing.T) {
	t.Run("limit reached", func(t *testing.T) {
		tokens := make([]string, 0, 120)
		for i := 0; i < 120; i++ {
			tokens = append(tokens, "w ")
		}
		got, f := run(Config{Lookahead: 5, PreambleLimit: 100}, tokens)
		assert.Equal(t, strings.Repeat("w ", 120), got)
		assert.Equal(t, StateDone, f.State())
	})

	t.Run("stream ends in preamble", func(t *testing.T) {
		got, _ := run(DefaultConfig(), chunk("Short answer without a heading.", 4))
		assert.Equal(t, "Short answer without a heading.", got)
	})

	t.Run("no output before limit", func(t *testing.T) {
		f := NewFilter(DefaultConfig())
		for i := 0; i < 50; i++ {
			assert.Empty(t, f.Push("x"))
		}
		assert.Equal(t, StatePreamble, f.State())
	})
}

func TestFilter_PushAfterDoneIsIgnored(t *testing.T) {
	f := NewFilter(DefaultConfig())
	f.Push("## Answer\nBody.\n## References\n")
	assert.Equal(t, StateDone, f.State())
	assert.Empty(t, f.Push("more text"))
	assert.Empty(t, f.Close())
	assert.Equal(t, "Body.", f.Text())
}

func TestCouldBeTrailer(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"", true},
		{"#", true},
		{"## Ref", true},
		{"**Biblio", true},
		{"References:", true},
		{"works ci", true},
		{"Metformin", false},
		{"References to", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, couldBeTrailer(tt.line), tt.line)
	}
}
