package repo

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/LeventeLantos/cart-recovery/internal/errs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Postgres implements Store on top of database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Open connects to Postgres, retrying the initial ping with exponential
// backoff until maxWait elapses.
func Open(ctx context.Context, url string, maxWait time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func migrations() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFiles,
		Root:       "migrations",
	}
}

// MigrateUp applies all pending migrations and returns how many ran.
func MigrateUp(db *sql.DB) (int, error) {
	return migrate.Exec(db, "postgres", migrations(), migrate.Up)
}

// MigrateDown rolls back every applied migration.
func MigrateDown(db *sql.DB) (int, error) {
	return migrate.Exec(db, "postgres", migrations(), migrate.Down)
}

func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w", op, errs.ErrDuplicate)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w", op, errs.ErrInUse)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, errs.ErrPersistence, err)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
