package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/deepnoodle-ai/scriptenv/script"
)

// Querier is the subset of *pgxpool.Pool and *pgx.Conn the Postgres loader
// uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DefaultTable is the table the Postgres loader reads when none is given.
const DefaultTable = "scripts"

// Postgres loads scripts from a table with the columns
// (path text primary key, content text, secure bool, cachable bool).
type Postgres struct {
	db    Querier
	query string
}

// NewPostgres returns a loader reading from table, or DefaultTable if table
// is empty. The table name is used verbatim and must come from trusted
// configuration.
func NewPostgres(db Querier, table string) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{
		db:    db,
		query: fmt.Sprintf("SELECT content, secure, cachable FROM %s WHERE path = $1", pgx.Identifier{table}.Sanitize()),
	}
}

// Resolve implements script.Loader. The content is fetched eagerly so the
// secure and cachable flags come from the same row.
func (l *Postgres) Resolve(ctx context.Context, p string) (*script.Reference, error) {
	var (
		content  string
		secure   bool
		cachable bool
	)
	err := l.db.QueryRow(ctx, l.query, p).Scan(&content, &secure, &cachable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store:%s: %w", p, script.ErrNotFound)
		}
		return nil, fmt.Errorf("store:%s: %w", p, err)
	}
	return script.New(p, script.Bytes(content),
		script.WithPath(script.PathStore, p),
		script.WithSecure(secure),
		script.WithCachable(cachable),
	), nil
}
