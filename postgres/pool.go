package postgres

import (
	"context"
	_ "embed"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// Pool is the subset of *pgxpool.Pool the stores use.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Schema creates every table the stores need. Statements are idempotent.
//
//go:embed schema.sql
var Schema string

// ApplySchema executes [Schema] one statement at a time.
func ApplySchema(ctx context.Context, pool Pool) error {
	for i, stmt := range statements(Schema) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return oops.Code("SCHEMA_APPLY_FAILED").With("statement", i).Wrap(err)
		}
	}
	return nil
}

func statements(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
