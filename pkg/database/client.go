// Package database provides PostgreSQL connection pooling and migration
// utilities built on pgx, with schema migrations embedded into the binary
// and applied automatically on startup.
package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	stdsql "database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql, used only by golang-migrate
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection-pool settings. DSN is a full libpq/pgx connection
// string (DATABASE_URL).
type Config struct {
	DSN             string
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewPool opens a pgxpool.Pool and verifies connectivity with a ping.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("database: parse DSN: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database: open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	return pool, nil
}

// RunMigrations applies every pending embedded migration using golang-migrate
// against the DSN directly (golang-migrate manages its own database/sql
// connection; it does not share the pgxpool).
//
// Migration workflow:
//  1. Edit schema in pkg/database/migrations/*.sql
//  2. Embedded into the binary at compile time via go:embed
//  3. Applied automatically on startup by this function
func RunMigrations(dsn string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("database: check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("database: no embedded migration files found")
	}

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("database: open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("database: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("database: create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("database: create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("database: apply migrations: %w", err)
	}

	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return false, fmt.Errorf("database: read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && len(name) > 4 && name[len(name)-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}

// IsInitialized reports whether the mirror schema has already been applied,
// by checking for the users table. The CLI does not use it to decide whether
// to run Init; that decision rests on the projects sync cursor.
func IsInitialized(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var count int64
	err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'users'",
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("database: check initialization: %w", err)
	}
	return count > 0, nil
}

// Wipe truncates every mirror table, preserving the schema. The WIPE=true
// path reinitializes from this clean slate.
func Wipe(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE projects, logs, comments, users, shell_history, sync_metadata RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("database: wipe: %w", err)
	}
	return nil
}
