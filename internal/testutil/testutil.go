// Package testutil holds helpers shared by unit and integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/poapgate/poapgate/internal/model"
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

// ResetLedgerSchema drops and recreates the key-value tables for tests.
func ResetLedgerSchema(ctx context.Context, pool *pgxpool.Pool) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	downSQL, err := os.ReadFile(filepath.Join(root, "migrations", "000001_ledger.down.sql"))
	if err != nil {
		return fmt.Errorf("read ledger down migration: %w", err)
	}
	if _, err := pool.Exec(ctx, string(downSQL)); err != nil {
		return fmt.Errorf("apply ledger down migration: %w", err)
	}

	upSQL, err := os.ReadFile(filepath.Join(root, "migrations", "000001_ledger.up.sql"))
	if err != nil {
		return fmt.Errorf("read ledger up migration: %w", err)
	}
	if _, err := pool.Exec(ctx, string(upSQL)); err != nil {
		return fmt.Errorf("apply ledger up migration: %w", err)
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

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestMintRecord creates a mint record with sensible defaults.
func NewTestMintRecord(t testing.TB, userID, eventID string) model.MintRecord {
	t.Helper()
	return model.MintRecord{
		UserID:          userID,
		UserDisplayName: "user-" + userID,
		RecipientType:   model.RecipientEmail,
		Recipient:       userID + "@example.com",
		EventID:         eventID,
		TokenID:         "tok-" + userID,
		MintedAt:        time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}
}

// NewTestIdentity creates an authenticated identity for handler tests.
func NewTestIdentity(userID string) *model.Identity {
	return &model.Identity{
		UserID:   userID,
		Name:     "Test " + userID,
		Username: "test_" + userID,
	}
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
