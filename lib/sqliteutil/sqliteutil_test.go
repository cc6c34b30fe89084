package sqliteutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateLinear(t *testing.T) {
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{Version: 1, SQL: `CREATE TABLE a (id INTEGER PRIMARY KEY);`},
		{Version: 2, SQL: `ALTER TABLE a ADD COLUMN name TEXT;`},
	}

	require.NoError(t, Migrate(db, migrations))

	var version int64
	require.NoError(t, db.Get(&version, "PRAGMA user_version"))
	require.Equal(t, int64(2), version)

	_, err = db.Exec(`INSERT INTO a (id, name) VALUES (1, 'x')`)
	require.NoError(t, err)

	// re-running is a no-op
	require.NoError(t, Migrate(db, migrations))
}

func TestMigratePartial(t *testing.T) {
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	v1 := []Migration{
		{Version: 1, SQL: `CREATE TABLE a (id INTEGER PRIMARY KEY);`},
	}
	require.NoError(t, Migrate(db, v1))

	_, err = db.Exec(`INSERT INTO a (id) VALUES (1)`)
	require.NoError(t, err)

	v2 := append(v1, Migration{Version: 2, SQL: `ALTER TABLE a ADD COLUMN name TEXT;`})
	require.NoError(t, Migrate(db, v2))

	// v1 data survives the upgrade
	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM a`))
	require.Equal(t, 1, count)
}

func TestMigrateFutureVersion(t *testing.T) {
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)

	err = Migrate(db, []Migration{
		{Version: 1, SQL: `CREATE TABLE a (id INTEGER PRIMARY KEY);`},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported schema version")
}
