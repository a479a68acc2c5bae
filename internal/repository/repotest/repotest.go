// Package repotest opens throwaway sqlite databases with the dispatch schema
// for tests in other packages.
package repotest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nimasrn/school-notify/internal/repository"
	"github.com/nimasrn/school-notify/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq int64

// NewDB returns a pg.DB backed by a private in-memory sqlite database. The
// pool is capped at one connection so concurrent callers serialize instead
// of seeing separate empty databases.
func NewDB(t testing.TB) *pg.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&seq, 1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(repository.Entities()...))
	return pg.New(db, db)
}
