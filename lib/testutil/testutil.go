package testutil

import (
	"fmt"
	"testing"

	"pricewatch-backend/lib/sqliteutil"
	"pricewatch-backend/lib/telemetry"

	"github.com/jmoiron/sqlx"
)

type ServiceParams struct {
	Name string
	// if unspecified, it will skip running migrations
	Migrations []sqliteutil.Migration
	// if unspecified, it will use `:memory:`
	DbPath string
}

type ServiceResult struct {
	DB *sqlx.DB
}

func SetupService(t testing.TB, params ServiceParams) (ServiceResult, func()) {
	cleanup := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))

	dbpath := ":memory:"
	if params.DbPath != "" {
		dbpath = params.DbPath
	}
	db, err := sqliteutil.OpenDB(dbpath)
	if err != nil {
		t.Fatal(err)
	}
	if len(params.Migrations) > 0 {
		err = sqliteutil.Migrate(db, params.Migrations)
		if err != nil {
			t.Fatal(err)
		}
	}

	return ServiceResult{DB: db}, func() {
		db.Close()
		cleanup()
	}
}
