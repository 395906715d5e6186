// Package offline implements a deterministic generation.ContentGenerator deriving courses from the
// structure of the document itself. It needs no network and is used without an AI API key.
package offline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/generation"
)

const (
	maxSummaryRunes     = 300
	maxKeyConcepts      = 10
	paragraphsPerLesson = 3
	maxTitleWords       = 6
)

var (
	wordRegex     = regexp.MustCompile(`[\p{L}][\p{L}'-]{4,}`)
	sentenceRegex = regexp.MustCompile(`[^.!?\n]+[.!?]`)
	markupRegex   = regexp.MustCompile(`\[\[[^\]]*\]\]|\[\d+\]|[*_` + "`" + `>#]+`)

	stopWords = map[string]struct{}{
		"about": {}, "after": {}, "again": {}, "because": {}, "before": {}, "being": {}, "between": {},
		"could": {}, "every": {}, "other": {}, "their": {}, "there": {}, "these": {}, "those": {},
		"through": {}, "under": {}, "where": {}, "which": {}, "while": {}, "would": {}, "should": {},
		"above": {}, "below": {}, "until": {}, "within": {}, "without": {},
	}
)

type Generator struct{}

var _ generation.ContentGenerator = Generator{} // interface compliance check

func NewGenerator() Generator {
	return Generator{}
}

// section is a heading & the paragraphs following it.
type section struct {
	level int // 0 when the section has no heading
	title string
	start int
	end   int
	paras []generation.Paragraph
}

func sections(source string) []section {
	var secs []section
	for _, p := range generation.Paragraphs(source) {
		if level, title, ok := p.IsHeading(); ok {
			secs = append(secs, section{level: level, title: title, start: p.Start, end: p.End})
			continue
		}
		if len(secs) == 0 {
			secs = append(secs, section{start: p.Start})
		}
		s := &secs[len(secs)-1]
		s.paras = append(s.paras, p)
		s.end = p.End
	}
	return secs
}

func (Generator) AnalyzeDocument(ctx context.Context, req generation.AnalysisRequest) (generation.DocumentAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return generation.DocumentAnalysis{}, err
	}

	res := generation.DocumentAnalysis{Title: req.Title, Difficulty: course.DifficultyBeginner}
	secs := sections(req.Source)
	for _, s := range secs {
		if s.level == 1 && res.Title == "" {
			res.Title = s.title
		}
		if s.level > 1 && len(res.KeyConcepts) < maxKeyConcepts {
			res.KeyConcepts = append(res.KeyConcepts, s.title)
		}
		if res.Summary == "" && len(s.paras) > 0 {
			res.Summary = summarize(s.paras[0].Text)
		}
	}
	if len(res.KeyConcepts) == 0 {
		res.KeyConcepts = frequentWords(req.Source, 5)
	}

	switch words := len(strings.Fields(req.Source)); {
	case words > 5000:
		res.Difficulty = course.DifficultyAdvanced
	case words > 1500:
		res.Difficulty = course.DifficultyIntermediate
	}
	return res, nil
}

func (Generator) OutlineCourse(ctx context.Context, req generation.OutlineRequest) (generation.Outline, error) {
	if err := ctx.Err(); err != nil {
		return generation.Outline{}, err
	}

	o := generation.Outline{Title: req.Analysis.Title, Description: req.Analysis.Summary}
	if strings.TrimSpace(req.Source) == "" {
		o.Modules = topicModules(req)
		return o, nil
	}

	secs := sections(req.Source)
	moduleLevel := outlineLevel(secs)
	if moduleLevel == 0 {
		o.Modules = chunkModules(secs, req.LessonsPerModule)
		return o, nil
	}

	var current *generation.OutlineModule
	for _, s := range secs {
		switch {
		case s.level == moduleLevel || (s.level != 0 && s.level < moduleLevel && len(s.paras) > 0):
			o.Modules = append(o.Modules, generation.OutlineModule{Title: s.title})
			current = &o.Modules[len(o.Modules)-1]
			if len(s.paras) > 0 {
				current.Description = summarize(s.paras[0].Text)
				current.Lessons = append(current.Lessons, lessonOf(s.title, s.paras))
			}
		case s.level > moduleLevel && len(s.paras) > 0:
			if current == nil {
				o.Modules = append(o.Modules, generation.OutlineModule{Title: o.Title})
				current = &o.Modules[len(o.Modules)-1]
			}
			current.Lessons = append(current.Lessons, lessonOf(s.title, s.paras))
		case s.level == 0 && len(s.paras) > 0:
			o.Modules = append(o.Modules, generation.OutlineModule{Title: "Introduction", Description: summarize(s.paras[0].Text)})
			current = &o.Modules[len(o.Modules)-1]
			current.Lessons = append(current.Lessons, lessonOf("Overview", s.paras))
		}
	}
	return o, nil
}

// outlineLevel returns the heading level of the modules: the highest level found at least twice,
// else the highest level found. 0 when the source has no heading.
func outlineLevel(secs []section) int {
	counts := make(map[int]int)
	for _, s := range secs {
		if s.level > 0 {
			counts[s.level]++
		}
	}
	levels := make([]int, 0, len(counts))
	for level := range counts {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	for _, level := range levels {
		if counts[level] >= 2 {
			return level
		}
	}
	if len(levels) > 0 {
		return levels[0]
	}
	return 0
}

// chunkModules splits plain text into lessons of a few paragraphs, grouped in modules.
func chunkModules(secs []section, lessonsPerModule int) []generation.OutlineModule {
	if lessonsPerModule <= 0 {
		lessonsPerModule = 4
	}
	var paras []generation.Paragraph
	for _, s := range secs {
		paras = append(paras, s.paras...)
	}

	var modules []generation.OutlineModule
	for i := 0; i < len(paras); i += paragraphsPerLesson {
		end := i + paragraphsPerLesson
		if end > len(paras) {
			end = len(paras)
		}
		if len(modules) == 0 || len(modules[len(modules)-1].Lessons) >= lessonsPerModule {
			modules = append(modules, generation.OutlineModule{Title: fmt.Sprintf("Part %d", len(modules)+1)})
		}
		m := &modules[len(modules)-1]
		m.Lessons = append(m.Lessons, lessonOf(titleFrom(paras[i].Text), paras[i:end]))
	}
	for i := range modules {
		modules[i].Description = modules[i].Lessons[0].Summary
	}
	return modules
}

// topicModules outlines a course from its topic only.
func topicModules(req generation.OutlineRequest) []generation.OutlineModule {
	topic := req.Analysis.Title
	concepts := req.Analysis.KeyConcepts
	if len(concepts) == 0 {
		concepts = []string{"Fundamentals", "Core concepts", "In practice"}
	}
	n := len(concepts)
	if req.MaxModules > 0 && n > req.MaxModules {
		n = req.MaxModules
	}

	modules := make([]generation.OutlineModule, 0, n)
	for _, concept := range concepts[:n] {
		modules = append(modules, generation.OutlineModule{
			Title:       concept,
			Description: fmt.Sprintf("%s in the context of %s.", concept, topic),
			Lessons: []generation.OutlineLesson{
				{Title: "Understanding " + concept, Summary: fmt.Sprintf("What %s means for %s.", concept, topic)},
				{Title: "Applying " + concept, Summary: fmt.Sprintf("Putting %s to work.", concept)},
			},
		})
	}
	return modules
}

func lessonOf(title string, paras []generation.Paragraph) generation.OutlineLesson {
	return generation.OutlineLesson{
		Title:       title,
		Summary:     summarize(paras[0].Text),
		SourceStart: paras[0].Start,
		SourceEnd:   paras[len(paras)-1].End,
	}
}

func (Generator) WriteLesson(ctx context.Context, req generation.LessonRequest) (generation.LessonDraft, error) {
	if err := ctx.Err(); err != nil {
		return generation.LessonDraft{}, err
	}

	l := req.Lesson
	var b strings.Builder
	if l.SourceEnd > l.SourceStart && req.Source != "" {
		for _, p := range generation.Paragraphs(req.Source) {
			if p.Start < l.SourceStart || p.End > l.SourceEnd {
				continue
			}
			if _, _, heading := p.IsHeading(); heading {
				_, _ = fmt.Fprintf(&b, "%s\n\n", p.Text)
				continue
			}
			_, _ = fmt.Fprintf(&b, "%s %s\n\n", p.Text, generation.CitationMarker(p.Start, p.End))
		}
	}
	if b.Len() == 0 {
		_, _ = fmt.Fprintf(&b, "## %s\n\n", l.Title)
		if l.Summary != "" {
			_, _ = fmt.Fprintf(&b, "%s\n\n", l.Summary)
		}
		_, _ = fmt.Fprintf(&b, "This lesson of the module %q introduces %s and explains how it fits in %s.\n\n",
			req.ModuleTitle, l.Title, req.CourseTitle)
		for _, o := range l.Objectives {
			_, _ = fmt.Fprintf(&b, "- %s\n", o)
		}
	}

	summary := l.Summary
	if summary == "" {
		summary = summarize(b.String())
	}
	objectives := l.Objectives
	if len(objectives) == 0 {
		objectives = []string{"Explain " + l.Title}
	}
	return generation.LessonDraft{Content: strings.TrimSpace(b.String()), Summary: summary, Objectives: objectives}, nil
}

// WriteQuiz asks to fill in the blank left by a key word of the lesson sentences,
// the other options being words of the lesson.
func (Generator) WriteQuiz(ctx context.Context, req generation.QuizRequest) (generation.QuizDraft, error) {
	if err := ctx.Err(); err != nil {
		return generation.QuizDraft{}, err
	}

	text := markupRegex.ReplaceAllString(req.Content, "")
	vocab := distinctWords(text)
	quiz := generation.QuizDraft{Title: req.LessonTitle + " quiz"}

	for _, sentence := range sentenceRegex.FindAllString(text, -1) {
		if len(quiz.Questions) >= req.Questions {
			break
		}
		sentence = strings.Join(strings.Fields(sentence), " ")
		answer := keyWord(sentence)
		if answer == "" {
			continue
		}

		qi := len(quiz.Questions)
		distractors := pickDistractors(vocab, sentence, answer, qi*3, 3)
		if len(distractors) == 0 {
			continue
		}
		pos := qi % (len(distractors) + 1)
		options := make([]string, 0, len(distractors)+1)
		options = append(options, distractors[:pos]...)
		options = append(options, answer)
		options = append(options, distractors[pos:]...)

		loc := regexp.MustCompile(`\b` + regexp.QuoteMeta(answer) + `\b`).FindStringIndex(sentence)
		if loc == nil {
			continue
		}
		quiz.Questions = append(quiz.Questions, generation.QuestionDraft{
			Prompt:      "Fill in the blank: " + sentence[:loc[0]] + "_____" + sentence[loc[1]:],
			Options:     options,
			AnswerIndex: pos,
			Explanation: sentence,
		})
	}
	return quiz, nil
}

// keyWord returns the longest significant word of the sentence.
func keyWord(sentence string) string {
	var best string
	for _, w := range wordRegex.FindAllString(sentence, -1) {
		if _, stop := stopWords[strings.ToLower(w)]; stop {
			continue
		}
		if utf8.RuneCountInString(w) > utf8.RuneCountInString(best) {
			best = w
		}
	}
	return best
}

func pickDistractors(vocab []string, sentence, answer string, offset, n int) []string {
	if len(vocab) == 0 {
		return nil
	}
	lowerSentence := strings.ToLower(sentence)
	picked := make([]string, 0, n)
	for i := 0; i < len(vocab) && len(picked) < n; i++ {
		w := vocab[(offset+i)%len(vocab)]
		if strings.EqualFold(w, answer) || strings.Contains(lowerSentence, strings.ToLower(w)) {
			continue
		}
		picked = append(picked, w)
	}
	return picked
}

func distinctWords(text string) []string {
	seen := make(map[string]struct{})
	var words []string
	for _, w := range wordRegex.FindAllString(text, -1) {
		key := strings.ToLower(w)
		if _, stop := stopWords[key]; stop {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		words = append(words, w)
	}
	return words
}

// frequentWords returns the `n` most frequent significant words, first seen first on ties.
func frequentWords(text string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, w := range wordRegex.FindAllString(text, -1) {
		key := strings.ToLower(w)
		if _, stop := stopWords[key]; stop {
			continue
		}
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// summarize returns the first sentences of `text`, up to maxSummaryRunes.
func summarize(text string) string {
	text = strings.Join(strings.Fields(markupRegex.ReplaceAllString(text, "")), " ")
	var b strings.Builder
	for _, s := range sentenceRegex.FindAllString(text, 2) {
		if utf8.RuneCountInString(b.String()+s) > maxSummaryRunes {
			break
		}
		b.WriteString(s)
	}
	if b.Len() == 0 {
		runes := []rune(text)
		if len(runes) > maxSummaryRunes {
			runes = runes[:maxSummaryRunes]
		}
		return strings.TrimSpace(string(runes))
	}
	return strings.TrimSpace(b.String())
}

// titleFrom makes a lesson title of the first words of a paragraph.
func titleFrom(text string) string {
	words := strings.Fields(markupRegex.ReplaceAllString(text, ""))
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.TrimRight(strings.Join(words, " "), ".,;:!?")
}
