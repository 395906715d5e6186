// Package sqlxrepos implements the repositories on Postgres with sqlx & squirrel.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/user"
)

// Postgres error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repositories bundles the repositories of every domain.
type Repositories struct {
	Users       user.Repository
	Documents   document.Repository
	Courses     course.Repository
	Enrollments enrollment.Repository
	Jobs        generation.Repository
}

func NewRepositories(db *sqlx.DB) Repositories {
	return Repositories{
		Users:       NewUserRepository(db),
		Documents:   NewDocumentRepository(db),
		Courses:     NewCourseRepository(db),
		Enrollments: NewEnrollmentRepository(db),
		Jobs:        NewJobRepository(db),
	}
}

type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

func get(ctx context.Context, q sqlx.QueryerContext, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func selectAll(ctx context.Context, q sqlx.QueryerContext, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

func exec(ctx context.Context, e sqlx.ExecerContext, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// withTx runs `fn` in a transaction, committed when `fn` succeeds.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func pqError(err error, code string) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == code {
		return pqErr, true
	}
	return nil, false
}

// isUniqueViolation reports whether `err` violates the unique constraint (or index) `constraint`, any when empty.
func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := pqError(err, uniqueViolation)
	return ok && (constraint == "" || pqErr.Constraint == constraint)
}

func isForeignKeyViolation(err error) bool {
	_, ok := pqError(err, foreignKeyViolation)
	return ok
}

// validIDs drops the malformed UUIDs, which can never match a row.
func validIDs(ids ...string) []string {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	return valid
}

func validID(id string) bool {
	return len(validIDs(id)) == 1
}

// orderBy returns the ORDER BY clauses of `ordering` (columns already whitelisted), `fallback` when empty.
// The ID breaks the ties so that pagination is stable.
func orderBy(ordering []core.DBOrdering, fallback core.DBOrdering) []string {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{fallback}
	}
	clauses := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		clauses = append(clauses, ord.String())
	}
	return append(clauses, "id")
}

func paginate(b sq.SelectBuilder, page core.Page) sq.SelectBuilder {
	return b.Limit(uint64(page.Limit())).Offset(uint64(page.Offset()))
}

// likePattern returns the ILIKE pattern matching strings containing `s`.
func likePattern(s string) string {
	return "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s) + "%"
}

// noRows maps sql.ErrNoRows to `notFound`.
func noRows(err error, notFound error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func joinColumns(columns []string) string {
	return strings.Join(columns, ", ")
}
