package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pricewatch-backend/services/tracker/db"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type AddObservationParams struct {
	ProductID int64
	// Ts defaults to the wall clock; explicit values exist for
	// backfill and tests.
	Ts           *int64
	PriceCents   *int64
	Currency     *string
	InStock      *bool
	Title        *string
	RawPriceText *string
	Error        *string
}

// AddObservation appends one scrape result to a product's history.
// Non-positive and statistically implausible prices are nulled and
// annotated rather than stored; the row itself is always written so
// provenance survives rejection. An error message supplied by the
// caller is never overwritten.
func (s *Service) AddObservation(ctx context.Context, params AddObservationParams) (int64, error) {
	ctx, span := tracer.Start(ctx, "AddObservation")
	defer span.End()
	span.SetAttributes(attribute.Int64("product_id", params.ProductID))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ts := time.Now().Unix()
	if params.Ts != nil {
		ts = *params.Ts
	}

	price := params.PriceCents
	errMsg := params.Error

	switch {
	case price != nil && *price <= 0:
		price = nil
		if errMsg == nil {
			msg := "Discarded non-positive price"
			errMsg = &msg
		}
	case price != nil:
		samples, err := s.recentPricedSamples(ctx, params.ProductID, s.guard.SampleLimit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
		if isOutlier, median, ok := s.guard.Classify(samples, *price); ok && isOutlier {
			span.AddEvent("price rejected as outlier")
			price = nil
			if errMsg == nil {
				msg := fmt.Sprintf(
					"Discarded outlier vs median %s",
					strconv.FormatFloat(median, 'f', -1, 64),
				)
				errMsg = &msg
			}
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO observations(product_id, ts, price_cents, currency, in_stock, title, raw_price_text, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		params.ProductID, ts, price, params.Currency, params.InStock,
		params.Title, params.RawPriceText, errMsg,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("add observation: %w", err)
	}
	return res.LastInsertId()
}

func (s *Service) recentPricedSamples(ctx context.Context, productID int64, limit int) ([]int64, error) {
	var samples []int64
	err := s.db.SelectContext(ctx, &samples, `
		SELECT price_cents FROM observations
		WHERE product_id = ? AND price_cents IS NOT NULL
		ORDER BY ts DESC, id DESC
		LIMIT ?`,
		productID, limit,
	)
	return samples, err
}

const observationColumns = `id, product_id, ts, price_cents, currency, in_stock, title, raw_price_text, error`

// LatestObservations returns the most recent observation per product.
// Two rows sharing the maximum timestamp tie-break on the highest id.
func (s *Service) LatestObservations(ctx context.Context) (map[int64]db.Observation, error) {
	ctx, span := tracer.Start(ctx, "LatestObservations")
	defer span.End()

	var rows []db.Observation
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+observationColumns+` FROM observations o
		WHERE o.id = (
			SELECT o2.id FROM observations o2
			WHERE o2.product_id = o.product_id
			ORDER BY o2.ts DESC, o2.id DESC
			LIMIT 1
		)`,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	latest := make(map[int64]db.Observation, len(rows))
	for _, r := range rows {
		latest[r.ProductID] = r
	}
	return latest, nil
}

// History returns up to limit most recent observations, newest first.
func (s *Service) History(ctx context.Context, productID int64, limit int) ([]db.Observation, error) {
	ctx, span := tracer.Start(ctx, "History")
	defer span.End()
	span.SetAttributes(attribute.Int64("product_id", productID))

	var rows []db.Observation
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+observationColumns+` FROM observations
		WHERE product_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?`,
		productID, limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return rows, nil
}

// PricedObservationAtOrBefore returns the latest observation carrying
// a price at or before the cutoff, or nil when none exists. Used for
// trailing-window price deltas.
func (s *Service) PricedObservationAtOrBefore(ctx context.Context, productID, cutoff int64) (*db.Observation, error) {
	ctx, span := tracer.Start(ctx, "PricedObservationAtOrBefore")
	defer span.End()

	var row db.Observation
	err := s.db.GetContext(ctx, &row, `
		SELECT `+observationColumns+` FROM observations
		WHERE product_id = ? AND price_cents IS NOT NULL AND ts <= ?
		ORDER BY ts DESC, id DESC
		LIMIT 1`,
		productID, cutoff,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &row, nil
}

// AllObservations dumps the full observation log, newest first.
func (s *Service) AllObservations(ctx context.Context) ([]db.Observation, error) {
	var rows []db.Observation
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+observationColumns+` FROM observations
		ORDER BY ts DESC, id DESC`,
	)
	return rows, err
}

// ClearAll deletes every product, observation and tag link. Tags
// themselves survive so colors do not need re-picking.
func (s *Service) ClearAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "ClearAll")
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM observations`,
		`DELETE FROM product_tags`,
		`DELETE FROM products`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return tx.Commit()
}

// CleanPriceOutliers re-scans stored history per product against a
// freshly computed median and deletes rows that fail classification,
// along with any lingering non-positive prices. It repairs history
// written before the guard existed.
func (s *Service) CleanPriceOutliers(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "CleanPriceOutliers")
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	defer tx.Rollback()

	var removed int64
	res, err := tx.ExecContext(ctx, `
		DELETE FROM observations
		WHERE price_cents IS NOT NULL AND price_cents <= 0`,
	)
	if err != nil {
		return 0, fmt.Errorf("clean outliers: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	var productIDs []int64
	err = tx.SelectContext(ctx, &productIDs, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("clean outliers: %w", err)
	}

	for _, pid := range productIDs {
		var samples []int64
		err := tx.SelectContext(ctx, &samples, `
			SELECT price_cents FROM observations
			WHERE product_id = ? AND price_cents IS NOT NULL
			ORDER BY ts DESC, id DESC
			LIMIT ?`,
			pid, s.guard.BatchSampleLimit,
		)
		if err != nil {
			return 0, fmt.Errorf("clean outliers: %w", err)
		}
		if len(samples) < s.guard.MinSamples {
			continue
		}
		median := medianOf(samples)
		if median <= 0 {
			continue
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM observations
			WHERE product_id = ? AND price_cents IS NOT NULL
			AND (price_cents < ? OR price_cents > ?)`,
			pid, median/s.guard.Factor, median*s.guard.Factor,
		)
		if err != nil {
			return 0, fmt.Errorf("clean outliers: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("removed", removed))
	return removed, nil
}
