// Package sqliteutil opens and migrates the sqlite databases used by
// the tracker. Schema evolution is modeled as linear version
// migrations gated by PRAGMA user_version.
package sqliteutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

// OpenDB opens a sqlite database at path, or a remote libsql replica
// when given a libsql:// url.
func OpenDB(path string) (*sqlx.DB, error) {
	if strings.HasPrefix(path, "libsql://") {
		db, err := sqlx.Open("libsql", path)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
		return db, nil
	}

	if path != ":memory:" {
		os.MkdirAll(filepath.Dir(path), 0777)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, wrapOpenDB(err)
	}
	_, err = db.Exec("PRAGMA foreign_keys=ON")
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	return db, nil
}

// A Migration moves the schema from Version-1 to Version. Each one is
// applied in its own transaction and is safe to re-run.
type Migration struct {
	Version int64
	SQL     string
}

// Migrate applies the given migrations in sequence, starting after
// the persisted user_version. A persisted version newer than the
// migration list is a fatal condition: the database belongs to a
// newer build.
func Migrate(db *sqlx.DB, migrations []Migration) error {
	var current int64
	if err := db.Get(&current, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	latest := int64(0)
	if len(migrations) > 0 {
		latest = migrations[len(migrations)-1].Version
	}
	if current > latest {
		return fmt.Errorf("unsupported schema version: %d (latest known: %d)", current, latest)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", m.Version, err)
		}
		// PRAGMA does not support placeholders
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.Version, err)
		}
	}
	return nil
}
