// Package repotest opens throwaway SQLite databases for tests.
package repotest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/timmy/factcorpus/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB returns a migrated in-memory SQLite database private to t.
// A single connection serializes writers, so concurrent tests of the claim
// protocol see the same behavior as a row-locking database.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repository.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// OpenStore returns a Store over OpenDB.
func OpenStore(t testing.TB) *repository.Store {
	t.Helper()
	return repository.NewStore(OpenDB(t))
}
