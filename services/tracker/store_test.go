package tracker

import (
	"context"
	"testing"

	"pricewatch-backend/lib/testutil"
	"pricewatch-backend/services/tracker/db"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func setupTracker(t testing.TB, fetcher Fetcher) (context.Context, *Service, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "tracker",
	})

	ctx := context.Background()
	svc, err := NewService(ctx, res.DB, fetcher)
	require.NoError(t, err)
	return ctx, svc, cleanup
}

func ptr[T any](v T) *T {
	return &v
}

func addProduct(t *testing.T, ctx context.Context, svc *Service, url string) int64 {
	id, err := svc.AddProduct(ctx, "Test GPU", url, "x-kom")
	require.NoError(t, err)
	return id
}

func TestAddObservationRoundTrip(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")

	want := db.Observation{
		ProductID:    pid,
		Ts:           1700000000,
		PriceCents:   ptr(int64(289900)),
		Currency:     ptr("PLN"),
		InStock:      ptr(true),
		Title:        ptr("GPU - x-kom"),
		RawPriceText: ptr("2899.00 zł"),
	}

	id, err := svc.AddObservation(ctx, AddObservationParams{
		ProductID:    want.ProductID,
		Ts:           ptr(want.Ts),
		PriceCents:   want.PriceCents,
		Currency:     want.Currency,
		InStock:      want.InStock,
		Title:        want.Title,
		RawPriceText: want.RawPriceText,
	})
	require.NoError(t, err)
	want.ID = id

	rows, err := svc.History(ctx, pid, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Empty(t, cmp.Diff(want, rows[0]))
}

func TestAddObservationNonPositivePrice(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")

	_, err := svc.AddObservation(ctx, AddObservationParams{
		ProductID:  pid,
		PriceCents: ptr(int64(0)),
		Currency:   ptr("PLN"),
	})
	require.NoError(t, err)

	rows, err := svc.History(ctx, pid, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].PriceCents)
	require.NotNil(t, rows[0].Error)
	require.Equal(t, "Discarded non-positive price", *rows[0].Error)
	// the rest of the row survives rejection
	require.Equal(t, "PLN", *rows[0].Currency)
}

func TestAddObservationCallerErrorNotOverwritten(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")

	_, err := svc.AddObservation(ctx, AddObservationParams{
		ProductID:  pid,
		PriceCents: ptr(int64(-5)),
		Error:      ptr("HTTP 500"),
	})
	require.NoError(t, err)

	rows, err := svc.History(ctx, pid, 10)
	require.NoError(t, err)
	require.Equal(t, "HTTP 500", *rows[0].Error)
	require.Nil(t, rows[0].PriceCents)
}

func TestAddObservationOutlierRejected(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")

	for i, price := range []int64{3000, 3100, 3050} {
		_, err := svc.AddObservation(ctx, AddObservationParams{
			ProductID:  pid,
			Ts:         ptr(int64(1000 + i)),
			PriceCents: ptr(price),
		})
		require.NoError(t, err)
	}

	// decimal slip: 3050 recorded as 305000
	_, err := svc.AddObservation(ctx, AddObservationParams{
		ProductID:  pid,
		Ts:         ptr(int64(2000)),
		PriceCents: ptr(int64(305000)),
	})
	require.NoError(t, err)

	rows, err := svc.History(ctx, pid, 1)
	require.NoError(t, err)
	require.Nil(t, rows[0].PriceCents)
	require.Equal(t, "Discarded outlier vs median 3050", *rows[0].Error)

	// a sane followup is accepted: the bad sample never polluted the
	// baseline
	_, err = svc.AddObservation(ctx, AddObservationParams{
		ProductID:  pid,
		Ts:         ptr(int64(3000)),
		PriceCents: ptr(int64(3200)),
	})
	require.NoError(t, err)

	rows, err = svc.History(ctx, pid, 1)
	require.NoError(t, err)
	require.Equal(t, int64(3200), *rows[0].PriceCents)
}

func TestAddObservationColdStartTrusted(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")

	// with fewer than three samples, even a wild price is stored
	for i, price := range []int64{5000, 900000} {
		_, err := svc.AddObservation(ctx, AddObservationParams{
			ProductID:  pid,
			Ts:         ptr(int64(1000 + i)),
			PriceCents: ptr(price),
		})
		require.NoError(t, err)
	}

	rows, err := svc.History(ctx, pid, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(900000), *rows[0].PriceCents)
}

func TestLatestObservationsTieBreak(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")

	first, err := svc.AddObservation(ctx, AddObservationParams{
		ProductID:  pid,
		Ts:         ptr(int64(1000)),
		PriceCents: ptr(int64(5000)),
	})
	require.NoError(t, err)
	second, err := svc.AddObservation(ctx, AddObservationParams{
		ProductID:  pid,
		Ts:         ptr(int64(1000)),
		PriceCents: ptr(int64(5100)),
	})
	require.NoError(t, err)
	require.Greater(t, second, first)

	latest, err := svc.LatestObservations(ctx)
	require.NoError(t, err)
	require.Equal(t, second, latest[pid].ID)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")

	for i := int64(0); i < 5; i++ {
		_, err := svc.AddObservation(ctx, AddObservationParams{
			ProductID:  pid,
			Ts:         ptr(1000 + i),
			PriceCents: ptr(int64(5000) + i),
		})
		require.NoError(t, err)
	}

	rows, err := svc.History(ctx, pid, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, int64(1004), rows[0].Ts)
	require.Equal(t, int64(1002), rows[2].Ts)
}

func TestPricedObservationAtOrBefore(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")

	_, err := svc.AddObservation(ctx, AddObservationParams{
		ProductID:  pid,
		Ts:         ptr(int64(1000)),
		PriceCents: ptr(int64(5000)),
	})
	require.NoError(t, err)
	// an error row at the cutoff must be skipped, it has no price
	_, err = svc.AddObservation(ctx, AddObservationParams{
		ProductID: pid,
		Ts:        ptr(int64(1500)),
		Error:     ptr("HTTP 503"),
	})
	require.NoError(t, err)
	_, err = svc.AddObservation(ctx, AddObservationParams{
		ProductID:  pid,
		Ts:         ptr(int64(2000)),
		PriceCents: ptr(int64(5200)),
	})
	require.NoError(t, err)

	obs, err := svc.PricedObservationAtOrBefore(ctx, pid, 1500)
	require.NoError(t, err)
	require.NotNil(t, obs)
	require.Equal(t, int64(5000), *obs.PriceCents)

	obs, err = svc.PricedObservationAtOrBefore(ctx, pid, 999)
	require.NoError(t, err)
	require.Nil(t, obs)
}

func TestCleanPriceOutliers(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")

	// write raw rows directly, simulating history from before the
	// guard existed
	for i, price := range []int64{3000, 3100, 3050, 300000, -5} {
		_, err := svc.db.ExecContext(ctx, `
			INSERT INTO observations(product_id, ts, price_cents) VALUES (?, ?, ?)`,
			pid, 1000+i, price,
		)
		require.NoError(t, err)
	}

	removed, err := svc.CleanPriceOutliers(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	rows, err := svc.History(ctx, pid, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		require.NotNil(t, row.PriceCents)
		require.Greater(t, *row.PriceCents, int64(0))
		require.Less(t, *row.PriceCents, int64(10000))
	}
}

func TestClearAll(t *testing.T) {
	ctx, svc, cleanup := setupTracker(t, nil)
	defer cleanup()

	pid := addProduct(t, ctx, svc, "https://www.x-kom.pl/p/1-gpu.html")
	_, err := svc.AddObservation(ctx, AddObservationParams{
		ProductID:  pid,
		PriceCents: ptr(int64(5000)),
	})
	require.NoError(t, err)

	tagID, err := svc.UpsertTag(ctx, "gpu", "#ff0000")
	require.NoError(t, err)
	require.NoError(t, svc.AttachTag(ctx, pid, tagID))

	require.NoError(t, svc.ClearAll(ctx))

	products, err := svc.Products(ctx)
	require.NoError(t, err)
	require.Empty(t, products)
	obs, err := svc.AllObservations(ctx)
	require.NoError(t, err)
	require.Empty(t, obs)

	// tags survive a clear
	tags, err := svc.Tags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
}
