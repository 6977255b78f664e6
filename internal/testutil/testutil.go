package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/inkforge/inkforge/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 731906

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// DatabaseURL returns DATABASE_URL, skipping the test in -short mode or
// when it is unset.
func DatabaseURL(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	return RequireEnv(t, "DATABASE_URL")
}

// PrepareDatabase takes the shared advisory lock for the rest of the test
// and rebuilds the schema from the migrations directory.
func PrepareDatabase(t testing.TB, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	unlock, err := AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() { _ = unlock() })

	if err := ResetSchema(ctx, pool); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
}

// ResetSchema rolls every migration back, newest first, then re-applies
// them all.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if err := ApplyMigrations(ctx, pool, "down"); err != nil {
		return err
	}
	return ApplyMigrations(ctx, pool, "up")
}

// MigrationFiles lists the migration files for direction ("up" or "down")
// in the order they must run.
func MigrationFiles(direction string) ([]string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(root, "migrations", "*."+direction+".sql"))
	if err != nil {
		return nil, fmt.Errorf("glob %s migrations: %w", direction, err)
	}
	sort.Strings(files)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}

// ApplyMigrations runs every migration file for direction.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, direction string) error {
	files, err := MigrationFiles(direction)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ApplySQLFile(ctx, pool, path); err != nil {
			return err
		}
	}
	return nil
}

// ApplySQLFile executes one migration file.
func ApplySQLFile(ctx context.Context, pool *pgxpool.Pool, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply migration %s: %w", filepath.Base(path), err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// NewTestUser creates a test user with sensible defaults.
func NewTestUser(t testing.TB, credits int) *model.User {
	t.Helper()
	now := time.Now().UTC()
	id := UniqueID("user")
	return &model.User{
		ID:        id,
		Email:     id + "@example.com",
		Name:      "Test User",
		Credits:   credits,
		Plan:      model.PlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestArtifact creates a test artifact owned by userID.
func NewTestArtifact(t testing.TB, userID string, createdAt time.Time) *model.Artifact {
	t.Helper()
	return &model.Artifact{
		ID:        UniqueID("art"),
		UserID:    userID,
		Prompt:    "a lighthouse at dusk",
		Style:     model.DefaultStyle,
		Content:   model.EncodeDataURL(model.SVGMediaType, []byte("<svg/>")),
		CreatedAt: createdAt.UTC(),
	}
}

var idSeq atomic.Int64

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idSeq.Add(1))
}

