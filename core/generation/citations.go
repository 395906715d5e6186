package generation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/trezcool/somo/core/course"
)

const maxExcerptRunes = 500

// `[[source:120-480]]`, optionally preceded by one space
var citationRegex = regexp.MustCompile(`( ?)\[\[\s*source\s*:\s*(\d+)\s*-\s*(\d+)\s*\]\]`)

// CitationReport counts the markers found in a lesson.
type CitationReport struct {
	Kept    int
	Invalid int
}

// ExtractCitations replaces the citation markers of `content` with numbered references `[n]`.
// Markers are valid when 0 <= START < END <= rune length of `source`; invalid ones are removed.
// Markers citing the same range share their number. Numbers follow the order of first appearance.
func ExtractCitations(content, source string) (string, []course.Citation, CitationReport) {
	var report CitationReport
	matches := citationRegex.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content, []course.Citation{}, report
	}

	src := []rune(source)
	numbers := make(map[[2]int]int)
	citations := make([]course.Citation, 0, len(matches))

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(content[last:m[0]])
		last = m[1]

		lead := content[m[2]:m[3]]
		start, errS := strconv.Atoi(content[m[4]:m[5]])
		end, errE := strconv.Atoi(content[m[6]:m[7]])
		if errS != nil || errE != nil || start < 0 || start >= end || end > len(src) {
			report.Invalid++
			continue
		}

		key := [2]int{start, end}
		n, ok := numbers[key]
		if !ok {
			n = len(citations) + 1
			numbers[key] = n
			citations = append(citations, course.Citation{
				Number:  n,
				Start:   start,
				End:     end,
				Excerpt: excerpt(src[start:end]),
			})
		}
		report.Kept++
		b.WriteString(lead)
		b.WriteString(fmt.Sprintf("[%d]", n))
	}
	b.WriteString(content[last:])
	return b.String(), citations, report
}

func excerpt(runes []rune) string {
	if len(runes) > maxExcerptRunes {
		runes = runes[:maxExcerptRunes]
	}
	return strings.TrimSpace(string(runes))
}

// CitationMarker formats a citation marker of the [start, end) rune range.
func CitationMarker(start, end int) string {
	return fmt.Sprintf("[[source:%d-%d]]", start, end)
}
