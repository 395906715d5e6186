package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParagraphs(t *testing.T) {
	src := "# Title\nIntro line\n\n  Second para\nmore  \n\n\n## Sub\ntext é"

	paras := Paragraphs(src)

	require.Len(t, paras, 5)
	wantTexts := []string{"# Title", "Intro line", "Second para\nmore", "## Sub", "text é"}
	runes := []rune(src)
	for i, p := range paras {
		assert.Equal(t, wantTexts[i], p.Text)
		assert.Equal(t, p.Text, string(runes[p.Start:p.End]))
	}

	level, title, ok := paras[0].IsHeading()
	assert.True(t, ok)
	assert.Equal(t, 1, level)
	assert.Equal(t, "Title", title)

	level, title, ok = paras[3].IsHeading()
	assert.True(t, ok)
	assert.Equal(t, 2, level)
	assert.Equal(t, "Sub", title)

	_, _, ok = paras[1].IsHeading()
	assert.False(t, ok)
	_, _, ok = Paragraph{Text: "#hashtag"}.IsHeading()
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "no limit", Truncate("no limit", 0))
	assert.Equal(t, "aaaaaa", Truncate("aaaaaa\n\nbb cc", 10))
	assert.Equal(t, "abcdé", Truncate("abcdéfgh", 5))
}

func TestPhaseProgress(t *testing.T) {
	tests := []struct {
		phase       string
		done, total int
		want        int
	}{
		{PhaseDocumentAnalysis, 0, 1, 0},
		{PhaseDocumentAnalysis, 1, 1, 15},
		{PhaseContentAnalysis, 1, 1, 35},
		{PhaseContentGeneration, 0, 4, 35},
		{PhaseContentGeneration, 1, 2, 60},
		{PhaseContentGeneration, 5, 4, 85},
		{PhaseValidation, 1, 1, 95},
		{PhaseFinalization, 1, 1, 100},
		{"unknown", 1, 1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PhaseProgress(tt.phase, tt.done, tt.total), "%s %d/%d", tt.phase, tt.done, tt.total)
	}
}
