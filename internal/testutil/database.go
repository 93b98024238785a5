// Package testutil provides shared test fixtures for packages that need a
// migrated store or the default catalog.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	// SeedCatalog mirrors the given catalog into the categories table.
	SeedCatalog *catalog.Catalog
	// SkipMigrations leaves the schema at version zero.
	SkipMigrations bool
}

// SetupTestDB creates a new in-memory database with all migrations applied.
// It is closed automatically when the test ends.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// SetupTestDBWithOptions creates an in-memory database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()

	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	if opts.SeedCatalog != nil {
		if err := store.SeedCategories(ctx, opts.SeedCatalog.All()); err != nil {
			t.Fatalf("failed to seed categories: %v", err)
		}
	}

	return store
}
