package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMigrationsPath = "../../db/migrations"

func TestOpenAndMigrate(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunMigrations(db, testMigrationsPath))
	// Second run is a no-op.
	require.NoError(t, RunMigrations(db, testMigrationsPath))

	for _, table := range []string{"users", "sessions", "login_history", "trades", "contract_purchases", "contract_sales", "support_tickets", "system_metrics"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}

	var totalUsers int
	require.NoError(t, db.QueryRow("SELECT metric_value FROM system_metrics WHERE metric_name = 'total_users'").Scan(&totalUsers))
	assert.Equal(t, 0, totalUsers)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestRunMigrationsRequiresConnection(t *testing.T) {
	assert.Error(t, RunMigrations(nil, testMigrationsPath))
}
