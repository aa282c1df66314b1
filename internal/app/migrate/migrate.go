package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const commandTimeout = time.Minute

// Runner applies the schema migrations found in a directory.
type Runner struct {
	pool          *pgxpool.Pool
	migrationsDir string
	log           *slog.Logger
}

// StatusEntry describes one migration file.
type StatusEntry struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// New returns a migration runner backed by goose.
func New(pool *pgxpool.Pool, migrationsDir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if migrationsDir == "" {
		return Runner{}, errors.New("empty migrations directory")
	}
	if _, err := os.Stat(migrationsDir); err != nil {
		return Runner{}, fmt.Errorf("locate migrations dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{pool: pool, migrationsDir: migrationsDir, log: log}, nil
}

// Ensure applies pending migrations and returns the resulting schema version.
func (r Runner) Ensure(ctx context.Context) (int64, error) {
	var version int64
	err := r.withProvider(func(p *goose.Provider) error {
		runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		results, err := p.Up(runCtx)
		r.logResults(results)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		version, err = p.GetDBVersion(runCtx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		r.log.Info("migrations applied", "applied", len(results), "version", version)
		return nil
	})
	return version, err
}

// Status lists every migration with its applied state.
func (r Runner) Status(ctx context.Context) ([]StatusEntry, error) {
	var entries []StatusEntry
	err := r.withProvider(func(p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		entries = make([]StatusEntry, 0, len(statuses))
		for _, s := range statuses {
			entries = append(entries, StatusEntry{
				Version:   s.Source.Version,
				Path:      s.Source.Path,
				Applied:   s.State == goose.StateApplied,
				AppliedAt: s.AppliedAt,
			})
		}
		return nil
	})
	return entries, err
}

// Down rolls back the latest migration, or every migration above targetVersion
// when it is positive.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withProvider(func(p *goose.Provider) error {
		runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			results, err := p.DownTo(runCtx, targetVersion)
			r.logResults(results)
			if err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
			return nil
		}
		r.log.Info("rolling back latest migration")
		result, err := p.Down(runCtx)
		if result != nil {
			r.logResults([]*goose.MigrationResult{result})
		}
		if err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases underlying connections.
func (r Runner) Close() {
	r.pool.Close()
}

// withProvider borrows a database/sql handle from the pool for goose. Closing
// the handle does not close the pool.
func (r Runner) withProvider(fn func(*goose.Provider) error) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(r.migrationsDir))
	if err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return fn(provider)
}

func (r Runner) logResults(results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		fields := []any{
			"version", res.Source.Version,
			"file", res.Source.Path,
			"direction", res.Direction,
			"duration_ms", res.Duration.Milliseconds(),
		}
		if res.Error != nil {
			r.log.Error("migration failed", append(fields, "error", res.Error)...)
			continue
		}
		r.log.Info("migration applied", fields...)
	}
}
