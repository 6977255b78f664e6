// Command migrate applies the SQL files in migrations/ to a PostgreSQL
// database and records each applied version in schema_migrations.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// migration is one numbered up/down pair.
type migration struct {
	Version string
	Up      string
	Down    string
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		dir         = flag.String("dir", "migrations", "Directory holding NNNNNN_name.{up,down}.sql files")
		direction   = flag.String("direction", "up", "up or down")
		steps       = flag.Int("steps", 1, "Number of migrations to roll back (down only)")
		timeout     = flag.Duration("timeout", time.Minute, "Overall timeout")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	migrations, err := loadMigrations(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("postgres", *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := ensureVersionTable(ctx, db); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	switch strings.ToLower(*direction) {
	case "up":
		err = migrateUp(ctx, db, migrations)
	case "down":
		err = migrateDown(ctx, db, migrations, *steps)
	default:
		err = fmt.Errorf("invalid direction %q; use up or down", *direction)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// loadMigrations pairs the up and down files in dir, sorted by version.
// Every version needs both halves.
func loadMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var suffix string
		switch {
		case strings.HasSuffix(name, upSuffix):
			suffix = upSuffix
		case strings.HasSuffix(name, downSuffix):
			suffix = downSuffix
		default:
			continue
		}

		version, _, ok := strings.Cut(strings.TrimSuffix(name, suffix), "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: name must be NNNNNN_description%s", name, suffix)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{Version: version}
			byVersion[version] = m
		}
		path := filepath.Join(dir, name)
		if suffix == upSuffix {
			m.Up = path
		} else {
			m.Down = path
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s: missing up or down file", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// appliedVersions returns which of versions are already recorded.
func appliedVersions(ctx context.Context, db *sql.DB, versions []string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT version FROM schema_migrations WHERE version = ANY($1)`,
		pq.Array(versions),
	)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool, len(versions))
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func migrateUp(ctx context.Context, db *sql.DB, migrations []migration) error {
	versions := make([]string, len(migrations))
	for i, m := range migrations {
		versions[i] = m.Version
	}
	applied, err := appliedVersions(ctx, db, versions)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyFile(ctx, db, m.Up, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
			return err
		}
		fmt.Printf("applied %s\n", filepath.Base(m.Up))
		count++
	}

	fmt.Printf("%d migration(s) applied\n", count)
	return nil
}

func migrateDown(ctx context.Context, db *sql.DB, migrations []migration, steps int) error {
	if steps < 1 {
		return errors.New("steps must be at least 1")
	}

	versions := make([]string, len(migrations))
	for i, m := range migrations {
		versions[i] = m.Version
	}
	applied, err := appliedVersions(ctx, db, versions)
	if err != nil {
		return err
	}

	rolledBack := 0
	for i := len(migrations) - 1; i >= 0 && rolledBack < steps; i-- {
		m := migrations[i]
		if !applied[m.Version] {
			continue
		}
		if err := applyFile(ctx, db, m.Down, `DELETE FROM schema_migrations WHERE version = $1`, m.Version); err != nil {
			return err
		}
		fmt.Printf("rolled back %s\n", filepath.Base(m.Down))
		rolledBack++
	}

	fmt.Printf("%d migration(s) rolled back\n", rolledBack)
	return nil
}

// applyFile runs a migration file and its bookkeeping statement in one
// transaction.
func applyFile(ctx context.Context, db *sql.DB, path, bookkeeping, version string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("apply %s: %w", filepath.Base(path), err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record %s: %w", version, err)
	}
	return tx.Commit()
}
