// Package repository persists the upload and conversation archive in PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/set-night/skylog/internal/config"
)

// The archive sees a few short write bursts per turn, so the pool stays
// small and lets idle connections go.
const (
	archiveMaxConns          = 4
	archiveMinConns          = 0
	archiveMaxConnIdleTime   = 5 * time.Minute
	archiveHealthCheckPeriod = time.Minute
	archiveApplicationName   = "skylog-archive"
)

// poolConfig parses databaseURL and applies the archive pool settings. An
// application_name already present in the URL wins.
func poolConfig(databaseURL string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.MaxConns = archiveMaxConns
	cfg.MinConns = archiveMinConns
	cfg.MaxConnIdleTime = archiveMaxConnIdleTime
	cfg.HealthCheckPeriod = archiveHealthCheckPeriod
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = make(map[string]string)
	}
	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = archiveApplicationName
	}
	return cfg, nil
}

// NewPool opens the archive pool and checks the server answers within
// config.ArchivePingTimeout.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create archive pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ArchivePingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive database %s: %w", cfg.ConnConfig.Host, err)
	}
	slog.Info("archive database connected",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns,
	)
	return pool, nil
}

// RunMigrations brings the archive schema up to date from the migrations at
// the root of migrationsFS.
func RunMigrations(databaseURL string, migrationsFS fs.FS) error {
	src, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("open archive migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("prepare archive migrations: %w", err)
	}
	defer m.Close()

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		slog.Debug("archive schema already current")
	case err != nil:
		return fmt.Errorf("migrate archive schema: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read archive schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("archive schema version %d is dirty", version)
	}
	slog.Info("archive schema ready", "version", version)
	return nil
}
