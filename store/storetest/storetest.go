// Package storetest opens throwaway in-memory SQLite stores for tests.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"data-marketplace/models"
	"data-marketplace/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

// New returns a migrated store backed by a private in-memory database.
// The pool is pinned to one connection so concurrent test goroutines are
// serialized the way row locks would serialize them on Postgres.
func New(t testing.TB) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:storetest_%d?mode=memory&cache=shared&_busy_timeout=5000", seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s := store.New(db, 0)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
