package generation

import (
	"strings"
	"unicode"
)

// Paragraph is a block of the source document delimited by blank lines, located by rune offsets [Start, End).
type Paragraph struct {
	Start int
	End   int
	Text  string
}

// IsHeading reports whether the paragraph is a markdown heading and returns its level and title.
func (p Paragraph) IsHeading() (int, string, bool) {
	line := p.Text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(line[level:]), true
}

// Paragraphs splits `source` into its non empty paragraphs. Offsets are rune offsets into `source`.
func Paragraphs(source string) []Paragraph {
	runes := []rune(source)
	var (
		paras []Paragraph
		start = -1
		end   int
	)
	flush := func() {
		if start >= 0 {
			paras = append(paras, Paragraph{Start: start, End: end, Text: string(runes[start:end])})
		}
		start = -1
	}

	lineStart := 0
	for i := 0; i <= len(runes); i++ {
		if i < len(runes) && runes[i] != '\n' {
			continue
		}
		line := runes[lineStart:i]
		if isBlank(line) {
			flush()
		} else {
			// headings always open a paragraph of their own
			if len(line) > 0 && line[0] == '#' {
				flush()
			}
			if start < 0 {
				start = lineStart + leadingSpaces(line)
			}
			end = lineStart + len(trimRightSpaces(line))
			if len(line) > 0 && line[0] == '#' {
				flush()
			}
		}
		lineStart = i + 1
	}
	flush()
	return paras
}

// Truncate cuts `source` to at most `max` runes, preferring a paragraph boundary.
func Truncate(source string, max int) string {
	runes := []rune(source)
	if max <= 0 || len(runes) <= max {
		return source
	}
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, "\n\n"); i > len(cut)/2 {
		return cut[:i]
	}
	return cut
}

func isBlank(line []rune) bool {
	for _, r := range line {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func leadingSpaces(line []rune) int {
	n := 0
	for n < len(line) && unicode.IsSpace(line[n]) {
		n++
	}
	return n
}

func trimRightSpaces(line []rune) []rune {
	n := len(line)
	for n > 0 && unicode.IsSpace(line[n-1]) {
		n--
	}
	return line[:n]
}
