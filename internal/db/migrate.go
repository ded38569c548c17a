package db

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"tollgate/internal/db/migrations"
)

// migrationLockID keys the Postgres advisory lock that serializes
// migration runs across facilitator instances sharing one database.
const migrationLockID int64 = 0x746F6C6C67617465 // "tollgate"

// migration is one embedded .sql file, keyed by its filename without
// extension ("001_initial_schema").
type migration struct {
	version string
	sql     string
}

// Migrate applies every pending migration. The advisory lock is taken
// and released on one dedicated connection; pooled connections could
// unlock on a different session and leave the lock stuck.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	return runMigrations(ctx, conn.Conn())
}

func runMigrations(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID) //nolint:errcheck

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	// A database whose schema was loaded by hand (psql -f on the initial
	// .sql file) has the tables but no tracking rows. Adopt it instead of
	// failing on the re-applied DDL.
	if err := adoptUntrackedSchema(ctx, conn); err != nil {
		return fmt.Errorf("adopt untracked schema: %w", err)
	}

	migs, err := loadMigrations()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	for _, m := range migs {
		if applied[m.version] {
			continue
		}
		if err := applyMigration(ctx, conn, m); err != nil {
			return err
		}
		slog.Info("applied migration", "version", m.version)
	}
	return nil
}

// applyMigration runs one migration and its tracking insert in a single
// transaction, so a failed statement leaves no partial schema behind.
func applyMigration(ctx context.Context, conn *pgx.Conn, m migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", m.version, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("apply %s: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
		return fmt.Errorf("record %s: %w", m.version, err)
	}
	return tx.Commit(ctx)
}

// loadMigrations reads the embedded .sql files in version order.
func loadMigrations() ([]migration, error) {
	migFS := migrations.FS()

	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var migs []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		content, err := fs.ReadFile(migFS, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migs = append(migs, migration{
			version: strings.TrimSuffix(name, ".sql"),
			sql:     string(content),
		})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}

func appliedVersions(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// adoptUntrackedSchema records 001_initial_schema as applied when the
// audit tables already exist but nothing is tracked. The transactions
// table stands in for "the initial schema is present".
func adoptUntrackedSchema(ctx context.Context, conn *pgx.Conn) error {
	var hasSchema bool
	err := conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'transactions'
		)
	`).Scan(&hasSchema)
	if err != nil {
		return err
	}
	if !hasSchema {
		return nil
	}

	var tracked bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = '001_initial_schema')",
	).Scan(&tracked)
	if err != nil {
		return err
	}
	if tracked {
		return nil
	}

	slog.Info("adopting hand-applied schema", "version", "001_initial_schema")
	_, err = conn.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ('001_initial_schema')")
	return err
}
