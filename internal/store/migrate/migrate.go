// Package migrate runs the Postgres schema migrations with goose, adapted
// from splax-s-peep's internal/app/migrate/migrate.go.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed *.sql
var embedded embed.FS

// Runner applies and inspects schema migrations over a database/sql handle
// opened with the pgx stdlib driver (goose requires database/sql, not
// pgxpool).
type Runner struct {
	db  *sql.DB
	log *zap.Logger
}

// New opens a dedicated database/sql connection for migrations.
func New(dsn string, log *zap.Logger) (*Runner, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening migration connection: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	goose.SetBaseFS(embedded)
	return &Runner{db: db, log: log}, nil
}

// Ensure applies all pending migrations.
func (r *Runner) Ensure(ctx context.Context) error {
	if err := goose.UpContext(ctx, r.db, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Status logs the current migration version.
func (r *Runner) Status(ctx context.Context) error {
	return goose.StatusContext(ctx, r.db, ".")
}

func (r *Runner) Close() error { return r.db.Close() }
