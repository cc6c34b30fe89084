package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pricewatch-backend/lib/extract"
	"pricewatch-backend/lib/fetch"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Fetcher retrieves a product page. Satisfied by *fetch.Client; tests
// substitute canned bodies.
type Fetcher interface {
	Fetch(ctx context.Context, url, source string) (fetch.Result, error)
}

const defaultPollConcurrency = 6

type PollResult struct {
	ProductID int64
	// OK means the round yielded a usable price. A round that stored
	// an error observation still counts as polled.
	OK  bool
	Err error
}

// PollProduct fetches, extracts and records one observation for a
// product. Fetch and extraction failures are recorded as error
// observations rather than returned: the history keeps a row for
// every round.
func (s *Service) PollProduct(ctx context.Context, productID int64) (PollResult, error) {
	ctx, span := tracer.Start(ctx, "PollProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product_id", productID))

	result := PollResult{ProductID: productID}

	product, err := s.Product(ctx, productID)
	if err != nil {
		return result, err
	}
	if product == nil {
		return result, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if s.fetcher == nil {
		return result, fmt.Errorf("service has no fetcher configured")
	}

	page, err := s.fetcher.Fetch(ctx, product.Url, product.Source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		msg := "Fetch failed: " + err.Error()
		if _, werr := s.AddObservation(ctx, AddObservationParams{
			ProductID: productID,
			Error:     &msg,
		}); werr != nil {
			return result, werr
		}
		result.Err = err
		return result, nil
	}

	if page.StatusCode >= 400 {
		msg := fmt.Sprintf("HTTP %d", page.StatusCode)
		if _, werr := s.AddObservation(ctx, AddObservationParams{
			ProductID: productID,
			Error:     &msg,
		}); werr != nil {
			return result, werr
		}
		result.Err = fmt.Errorf("%s for %s", msg, product.Url)
		return result, nil
	}

	parsed := extract.Extract(page.Body)

	// placeholder names adopt the scraped title on first success
	if parsed.Title != nil && (product.Name == "" || strings.HasPrefix(product.Name, "http")) {
		if err := s.RenameProduct(ctx, productID, *parsed.Title); err != nil {
			slog.WarnContext(ctx, "failed to adopt scraped title",
				"product_id", productID, "err", err)
		}
	}

	if _, err := s.AddObservation(ctx, AddObservationParams{
		ProductID:    productID,
		PriceCents:   parsed.PriceCents,
		Currency:     parsed.Currency,
		InStock:      parsed.InStock,
		Title:        parsed.Title,
		RawPriceText: parsed.RawPriceText,
		Error:        parsed.Err,
	}); err != nil {
		return result, err
	}

	result.OK = parsed.Err == nil && parsed.PriceCents != nil
	if parsed.Err != nil {
		result.Err = fmt.Errorf("%s", *parsed.Err)
	}
	return result, nil
}

// PollAll polls every tracked product with bounded concurrency. One
// product failing never stops the others.
func (s *Service) PollAll(ctx context.Context, concurrency int) ([]PollResult, error) {
	ctx, span := tracer.Start(ctx, "PollAll")
	defer span.End()

	if concurrency <= 0 {
		concurrency = defaultPollConcurrency
	}

	products, err := s.Products(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]PollResult, len(products))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, product := range products {
		wg.Add(1)
		go func(i int, productID int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := s.PollProduct(ctx, productID)
			if err != nil {
				res = PollResult{ProductID: productID, Err: err}
			}
			results[i] = res
		}(i, product.ID)
	}
	wg.Wait()

	var ok int
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	span.SetAttributes(
		attribute.Int("products", len(results)),
		attribute.Int("ok", ok),
	)
	return results, nil
}

// RunForever polls all products on a fixed interval until the context
// is cancelled. The time a round takes counts against its interval.
func (s *Service) RunForever(ctx context.Context, interval time.Duration, concurrency int) error {
	for {
		start := time.Now()
		results, err := s.PollAll(ctx, concurrency)
		if err != nil {
			slog.ErrorContext(ctx, "poll round failed", "err", err)
		} else {
			var ok int
			for _, r := range results {
				if r.OK {
					ok++
				}
			}
			slog.InfoContext(ctx, "poll round complete",
				"products", len(results), "ok", ok,
				"elapsed", time.Since(start).Round(time.Millisecond))
		}

		sleep := interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
