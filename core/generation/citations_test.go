package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCitations(t *testing.T) {
	source := "Hello world, this is the source."

	tests := []struct {
		name        string
		content     string
		wantContent string
		wantRanges  [][2]int
		wantReport  CitationReport
	}{
		{
			name:        "no marker",
			content:     "Plain lesson.",
			wantContent: "Plain lesson.",
			wantRanges:  [][2]int{},
		},
		{
			name:        "numbered in order of appearance",
			content:     "Greeting [[source:0-5]] and world [[source:6-11]].",
			wantContent: "Greeting [1] and world [2].",
			wantRanges:  [][2]int{{0, 5}, {6, 11}},
			wantReport:  CitationReport{Kept: 2},
		},
		{
			name:        "same range same number",
			content:     "A [[source:0-5]] b [[ source : 0 - 5 ]].",
			wantContent: "A [1] b [1].",
			wantRanges:  [][2]int{{0, 5}},
			wantReport:  CitationReport{Kept: 2},
		},
		{
			name:        "invalid markers removed",
			content:     "Out of bounds [[source:10-99]], empty [[source:5-5]], reversed [[source:8-2]].",
			wantContent: "Out of bounds, empty, reversed.",
			wantRanges:  [][2]int{},
			wantReport:  CitationReport{Invalid: 3},
		},
		{
			name:        "end bound inclusive of the source length",
			content:     "All[[source:0-32]]",
			wantContent: "All[1]",
			wantRanges:  [][2]int{{0, 32}},
			wantReport:  CitationReport{Kept: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, citations, report := ExtractCitations(tt.content, source)
			assert.Equal(t, tt.wantContent, content)
			assert.Equal(t, tt.wantReport, report)
			require.Len(t, citations, len(tt.wantRanges))
			for i, rng := range tt.wantRanges {
				assert.Equal(t, i+1, citations[i].Number)
				assert.Equal(t, rng[0], citations[i].Start)
				assert.Equal(t, rng[1], citations[i].End)
				assert.Equal(t, string([]rune(source)[rng[0]:rng[1]]), citations[i].Excerpt)
			}
		})
	}
}

func TestExtractCitations_RuneOffsets(t *testing.T) {
	source := "héllo wörld"
	content, citations, _ := ExtractCitations("See "+CitationMarker(6, 11), source)

	assert.Equal(t, "See [1]", content)
	require.Len(t, citations, 1)
	assert.Equal(t, "wörld", citations[0].Excerpt)
}

func TestExtractCitations_ExcerptCapped(t *testing.T) {
	long := make([]rune, 800)
	for i := range long {
		long[i] = 'x'
	}
	_, citations, _ := ExtractCitations(CitationMarker(0, 800), string(long))

	require.Len(t, citations, 1)
	assert.Len(t, []rune(citations[0].Excerpt), maxExcerptRunes)
	assert.Equal(t, 800, citations[0].End)
}
