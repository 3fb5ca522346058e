package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &DB{Client: db}, nil
}

// schema creates the attendance table. The users table belongs to the
// employee service and is only read here.
//
// The partial unique index backs up the one-open-session-per-day rule for
// writers that bypass the service lock.
const schema = `
CREATE TABLE IF NOT EXISTS attendances (
	id             TEXT PRIMARY KEY,
	user_id        TEXT        NOT NULL,
	day_start      TIMESTAMPTZ NOT NULL,
	check_in_time  TIMESTAMPTZ NOT NULL,
	check_out_time TIMESTAMPTZ,
	photo_url      TEXT        NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS attendances_one_open_per_day
	ON attendances (user_id, day_start) WHERE check_out_time IS NULL;

CREATE INDEX IF NOT EXISTS attendances_user_check_in
	ON attendances (user_id, check_in_time DESC);

CREATE INDEX IF NOT EXISTS attendances_check_in
	ON attendances (check_in_time DESC);
`

// Migrate applies the attendance schema. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
