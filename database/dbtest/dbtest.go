// Package dbtest provides migrated stores for tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/chxlky/trello-signoff/database"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var seq atomic.Int64

// New returns a migrated, private in-memory database.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, err := database.Init(dsn)
	require.NoError(t, err, "opening test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

// NewStore wraps New in a database.Store.
func NewStore(t testing.TB) *database.Store {
	t.Helper()
	return database.New(New(t))
}

// NewFile returns a migrated database backed by a file in a temporary
// directory, for tests that need SQLite's file locking.
func NewFile(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Init(filepath.Join(t.TempDir(), "signoff.db"))
	require.NoError(t, err, "opening test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}
