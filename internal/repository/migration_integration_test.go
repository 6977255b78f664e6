//go:build integration

package repository

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkforge/inkforge/internal/testutil"
)

func TestIntegrationMigration_Schema(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	want := map[string][]string{
		"users":               {"id", "email", "name", "image", "credits", "plan", "created_at", "updated_at"},
		"credit_transactions": {"id", "user_id", "kind", "amount", "balance_after", "reason", "reference_id", "created_at"},
		"artifacts":           {"id", "user_id", "prompt", "style", "content", "created_at"},
		"generation_events":   {"id", "event_id", "transaction_id", "user_id", "outcome", "reason", "engine_duration_ms", "occurred_at", "created_at"},
		"daily_usage":         {"user_id", "date", "delivered", "refunded", "persist_failed", "updated_at"},
	}

	for table, columns := range want {
		t.Run(table, func(t *testing.T) {
			got := tableColumns(t, ctx, pool, table)
			if len(got) == 0 {
				t.Fatalf("table %s missing", table)
			}
			for _, col := range columns {
				if !slices.Contains(got, col) {
					t.Errorf("%s.%s missing (have %v)", table, col, got)
				}
			}
		})
	}
}

// The ledger and archive rely on these constraints as a last line of
// defence against buggy writers.
func TestIntegrationMigration_Constraints(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	if _, err := pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ('owner', 'owner@example.com')`); err != nil {
		t.Fatalf("insert owner: %v", err)
	}

	rejected := []struct {
		name string
		sql  string
	}{
		{"negative balance", `INSERT INTO users (id, email, credits) VALUES ('neg', 'neg@example.com', -1)`},
		{"unknown plan", `INSERT INTO users (id, email, plan) VALUES ('p', 'p@example.com', 'enterprise')`},
		{"duplicate email", `INSERT INTO users (id, email) VALUES ('dup', 'owner@example.com')`},
		{"blank prompt", `INSERT INTO artifacts (id, user_id, prompt, content) VALUES ('a1', 'owner', '   ', 'data:')`},
		{"orphan artifact", `INSERT INTO artifacts (id, user_id, prompt, content) VALUES ('a2', 'ghost', 'fox', 'data:')`},
		{"zero-amount journal entry", `INSERT INTO credit_transactions (id, user_id, kind, amount, balance_after, reason) VALUES ('c1', 'owner', 'debit', 0, 3, 'generation')`},
		{"unknown journal kind", `INSERT INTO credit_transactions (id, user_id, kind, amount, balance_after, reason) VALUES ('c2', 'owner', 'gift', 1, 4, 'generation')`},
		{"unknown outcome", `INSERT INTO generation_events (id, event_id, transaction_id, user_id, outcome, occurred_at) VALUES ('e1', 'ev1', 'tx', 'owner', 'lost', NOW())`},
	}

	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := pool.Exec(ctx, tt.sql); err == nil {
				t.Errorf("insert accepted: %s", tt.sql)
			}
		})
	}

	var credits int
	if err := pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = 'owner'`).Scan(&credits); err != nil {
		t.Fatalf("read owner: %v", err)
	}
	if credits != 3 {
		t.Errorf("default credits = %d, want 3", credits)
	}
}

func TestIntegrationMigration_DownThenUp(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	if err := testutil.ApplyMigrations(ctx, pool, "down"); err != nil {
		t.Fatalf("down: %v", err)
	}
	for _, table := range []string{"users", "artifacts", "generation_events"} {
		if cols := tableColumns(t, ctx, pool, table); len(cols) != 0 {
			t.Errorf("%s survived rollback", table)
		}
	}

	if err := testutil.ApplyMigrations(ctx, pool, "up"); err != nil {
		t.Fatalf("up after down: %v", err)
	}
	if cols := tableColumns(t, ctx, pool, "artifacts"); len(cols) == 0 {
		t.Error("artifacts missing after re-apply")
	}
}

func TestIntegrationMigration_UpIsRepeatable(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	ups, err := testutil.MigrationFiles("up")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	for _, path := range ups {
		if !strings.HasSuffix(path, ".up.sql") {
			t.Fatalf("unexpected file %s", path)
		}
		if err := testutil.ApplySQLFile(ctx, pool, path); err != nil {
			t.Errorf("second apply of %s: %v", filepath.Base(path), err)
		}
	}
}

func tableColumns(t *testing.T, ctx context.Context, pool *pgxpool.Pool, table string) []string {
	t.Helper()

	rows, err := pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
	`, table)
	if err != nil {
		t.Fatalf("query columns of %s: %v", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate columns: %v", err)
	}
	return cols
}

func newMigrationTestEnv(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testutil.DatabaseURL(t))
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	testutil.PrepareDatabase(t, pool)
	return ctx, pool
}
