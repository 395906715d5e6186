package inmemdb

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/user"
)

// DB keeps every table in memory behind a single lock, so that multi-table writes are atomic
// the way a Postgres transaction makes them.
type DB struct {
	mu sync.RWMutex

	users       map[string]*user.User
	documents   map[string]*document.Document
	courses     map[string]*course.Course // full graphs
	enrollments map[string]*enrollment.Enrollment
	progress    map[string]map[string]enrollment.LessonProgress // enrollment ID -> lesson ID -> progress
	attempts    []enrollment.QuizAttempt
	jobs        map[string]*generation.Job
}

func Open() *DB {
	return &DB{
		users:       make(map[string]*user.User),
		documents:   make(map[string]*document.Document),
		courses:     make(map[string]*course.Course),
		enrollments: make(map[string]*enrollment.Enrollment),
		progress:    make(map[string]map[string]enrollment.LessonProgress),
		jobs:        make(map[string]*generation.Job),
	}
}

// Repositories bundles the repositories of every domain.
type Repositories struct {
	Users       user.Repository
	Documents   document.Repository
	Courses     course.Repository
	Enrollments enrollment.Repository
	Jobs        generation.Repository
}

func NewRepositories(db *DB) Repositories {
	return Repositories{
		Users:       NewUserRepository(db),
		Documents:   NewDocumentRepository(db),
		Courses:     NewCourseRepository(db),
		Enrollments: NewEnrollmentRepository(db),
		Jobs:        NewJobRepository(db),
	}
}

// orderBy sorts `items` stably following `ordering`, using `cmp` to compare 2 items on a column.
// The default order is `fallback`.
func orderBy[T any](items []T, ordering []core.DBOrdering, fallback core.DBOrdering, cmp func(a, b T, column string) int) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{fallback}
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, ord := range ordering {
			c := cmp(items[i], items[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

// paginate returns the page of `items`.
func paginate[T any](items []T, page core.Page) []T {
	start, end := page.Bounds(len(items))
	return items[start:end]
}

func cmpStrings(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func cmpInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpTimes(a, b time.Time) int {
	return a.Compare(b)
}

func cmpTimePtrs(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func cloneStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	return append([]string(nil), ss...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	tt := *t
	return &tt
}
