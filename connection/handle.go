package connection

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Dialect names the SQL flavour of a store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Handle is an open tenant store. Queries are written with ? placeholders
// and rebound for the store dialect.
type Handle struct {
	TenantID string
	Name     string
	Dialect  Dialect
	DB       *sql.DB
}

func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return h.DB.ExecContext(ctx, h.Rebind(query), args...)
}

func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return h.DB.QueryContext(ctx, h.Rebind(query), args...)
}

func (h *Handle) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return h.DB.QueryRowContext(ctx, h.Rebind(query), args...)
}

// Rebind rewrites ? placeholders as $1..$n for postgres. Quoted literals
// are left alone.
func (h *Handle) Rebind(query string) string {
	if h == nil || h.Dialect != DialectPostgres {
		return query
	}
	return Rebind(query)
}

// Rebind rewrites ? placeholders as $1..$n outside single-quoted literals.
func Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
