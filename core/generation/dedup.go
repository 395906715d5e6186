package generation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultDedupThreshold is the similarity ratio from which two titles are considered duplicates.
const DefaultDedupThreshold = 0.85

// "Module 1:", "Lesson 2 -", "Chapter 3.", "1.", "2)", "3 -" ...
var titlePrefixRegex = regexp.MustCompile(`^(?:(?:module|lesson|chapter|part|unit|section|week|step)\s+\d+\s*[:.)\-]?\s*|\d+\s*[:.)\-]\s*)`)

// DedupReport counts what deduplication removed.
type DedupReport struct {
	MergedModules  int
	DroppedLessons int
}

// NormalizeTitle lower-cases `title`, strips numbering prefixes & punctuation and collapses whitespace.
func NormalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	for {
		stripped := titlePrefixRegex.ReplaceAllString(t, "")
		if stripped == t {
			break
		}
		t = stripped
	}
	t = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, t)
	return strings.Join(strings.Fields(t), " ")
}

// TitleSimilarity returns the difflib ratio of the normalized titles, in [0, 1].
func TitleSimilarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return difflib.NewMatcher(strings.Split(na, ""), strings.Split(nb, "")).Ratio()
}

func findSimilar(title string, titles []string, threshold float64) int {
	for i, t := range titles {
		if TitleSimilarity(title, t) >= threshold {
			return i
		}
	}
	return -1
}

// DedupOutline merges modules with near-duplicate titles (lessons appended to the first one)
// and drops near-duplicate lessons within each module. Untitled lessons are dropped.
func DedupOutline(o Outline, threshold float64) (Outline, DedupReport) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDedupThreshold
	}
	var report DedupReport

	modules := make([]OutlineModule, 0, len(o.Modules))
	titles := make([]string, 0, len(o.Modules))
	for i, m := range o.Modules {
		m.Title = strings.TrimSpace(m.Title)
		if NormalizeTitle(m.Title) == "" {
			m.Title = fmt.Sprintf("Part %d", i+1)
		}
		if idx := findSimilar(m.Title, titles, threshold); idx >= 0 {
			modules[idx].Lessons = append(modules[idx].Lessons, m.Lessons...)
			if modules[idx].Description == "" {
				modules[idx].Description = m.Description
			}
			report.MergedModules++
			continue
		}
		m.Lessons = append([]OutlineLesson(nil), m.Lessons...)
		modules = append(modules, m)
		titles = append(titles, m.Title)
	}

	for mi := range modules {
		lessons := make([]OutlineLesson, 0, len(modules[mi].Lessons))
		lessonTitles := make([]string, 0, len(modules[mi].Lessons))
		for _, l := range modules[mi].Lessons {
			l.Title = strings.TrimSpace(l.Title)
			if NormalizeTitle(l.Title) == "" || findSimilar(l.Title, lessonTitles, threshold) >= 0 {
				report.DroppedLessons++
				continue
			}
			lessons = append(lessons, l)
			lessonTitles = append(lessonTitles, l.Title)
		}
		modules[mi].Lessons = lessons
	}

	o.Modules = modules
	return o, report
}

// CapOutline keeps at most `maxModules` non empty modules of at most `lessonsPerModule` lessons each.
func CapOutline(o Outline, maxModules, lessonsPerModule int) Outline {
	modules := make([]OutlineModule, 0, len(o.Modules))
	for _, m := range o.Modules {
		if len(m.Lessons) == 0 {
			continue
		}
		if maxModules > 0 && len(modules) >= maxModules {
			break
		}
		if lessonsPerModule > 0 && len(m.Lessons) > lessonsPerModule {
			m.Lessons = m.Lessons[:lessonsPerModule]
		}
		modules = append(modules, m)
	}
	o.Modules = modules
	return o
}
