// Package tracker owns the product directory and the per-product
// observation time series, including the outlier defense that keeps
// bad scrapes out of price history.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"pricewatch-backend/lib/sqliteutil"
	"pricewatch-backend/services/tracker/db"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/tracker")

var (
	// ErrProductExists is returned when a product url is already
	// tracked. Not conflated with fetch or parse failures.
	ErrProductExists = errors.New("product already exists")
	ErrNotFound      = errors.New("not found")
)

type Service struct {
	db    *sqlx.DB
	guard OutlierGuard

	// observation writes serialize here so the outlier guard always
	// classifies against a settled history
	writeMu sync.Mutex

	fetcher Fetcher
}

// NewService migrates the database and repairs history written before
// the outlier guard existed. fetcher may be nil when the service is
// only used for queries.
func NewService(ctx context.Context, database *sqlx.DB, fetcher Fetcher) (*Service, error) {
	if err := sqliteutil.Migrate(database, db.Migrations()); err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}

	s := &Service{
		db:      database,
		guard:   DefaultOutlierGuard(),
		fetcher: fetcher,
	}

	removed, err := s.CleanPriceOutliers(ctx)
	if err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}
	if removed > 0 {
		slog.InfoContext(ctx, "cleaned up stored price outliers", "removed", removed)
	}
	return s, nil
}
