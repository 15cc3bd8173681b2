// Package dbtest opens throwaway migrated databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitepulse/internal/db"
)

// Open returns a migrated SQLite database that lives in t.TempDir().
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "sitepulse.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// Owner inserts a user that can own projects.
func Owner(t *testing.T, gdb *gorm.DB, username string) *db.User {
	t.Helper()

	u, err := db.CreateUser(context.Background(), gdb, username, "secret-password", false)
	require.NoError(t, err)
	return u
}

// Project inserts a project owned by a fresh user.
func Project(t *testing.T, gdb *gorm.DB, name string) *db.Project {
	t.Helper()

	owner := Owner(t, gdb, name+"-owner")
	p, err := db.CreateProject(context.Background(), gdb, owner.ID, name, 0)
	require.NoError(t, err)
	return p
}
