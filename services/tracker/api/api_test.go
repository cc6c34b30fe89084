package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"pricewatch-backend/lib/fetch"
	"pricewatch-backend/lib/testutil"
	"pricewatch-backend/services/tracker"
	"pricewatch-backend/services/tracker/db"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, source string) (fetch.Result, error) {
	body, ok := f.pages[url]
	if !ok {
		return fetch.Result{}, fmt.Errorf("no such page: %s", url)
	}
	return fetch.Result{FinalUrl: url, StatusCode: 200, Body: body}, nil
}

func setupApp(t *testing.T, fetcher *fakeFetcher) *fiber.App {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "tracker/api",
	})
	t.Cleanup(cleanup)

	svc, err := tracker.NewService(context.Background(), res.DB, fetcher)
	require.NoError(t, err)
	return NewApp(svc, fetcher)
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("content-type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

const gpuPage = `<html><head><title>GPU - x-kom</title></head>
<body><span class="price">2 899,00 zł</span></body></html>`

func TestProductLifecycle(t *testing.T) {
	url := "https://www.x-kom.pl/p/1-gpu.html"
	app := setupApp(t, &fakeFetcher{pages: map[string]string{url: gpuPage}})

	code, raw := doJSON(t, app, "POST", "/api/products", fiber.Map{"url": url})
	require.Equal(t, fiber.StatusCreated, code, string(raw))

	var created struct {
		ID int64 `json:"id"`
		OK bool  `json:"ok"`
	}
	require.NoError(t, json.Unmarshal(raw, &created))
	require.True(t, created.OK)

	// duplicate url conflicts
	code, _ = doJSON(t, app, "POST", "/api/products", fiber.Map{"url": url})
	require.Equal(t, fiber.StatusConflict, code)

	code, raw = doJSON(t, app, "GET", "/api/products", nil)
	require.Equal(t, fiber.StatusOK, code)

	var products []struct {
		ID         int64  `json:"id"`
		Name       string `json:"name"`
		PriceCents *int64 `json:"price_cents"`
		Currency   string `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(raw, &products))
	require.Len(t, products, 1)
	require.Equal(t, "GPU - x-kom", products[0].Name)
	require.Equal(t, int64(289900), *products[0].PriceCents)
	require.Equal(t, "PLN", products[0].Currency)

	code, raw = doJSON(t, app, "GET", fmt.Sprintf("/api/products/%d/history", created.ID), nil)
	require.Equal(t, fiber.StatusOK, code)
	var history []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history, 1)

	code, _ = doJSON(t, app, "DELETE", fmt.Sprintf("/api/products/%d", created.ID), nil)
	require.Equal(t, fiber.StatusOK, code)
	code, _ = doJSON(t, app, "DELETE", fmt.Sprintf("/api/products/%d", created.ID), nil)
	require.Equal(t, fiber.StatusNotFound, code)
}

func TestAddProductValidation(t *testing.T) {
	app := setupApp(t, &fakeFetcher{})

	code, _ := doJSON(t, app, "POST", "/api/products", fiber.Map{"url": "  "})
	require.Equal(t, fiber.StatusBadRequest, code)
}

func TestHistoryUnknownProduct(t *testing.T) {
	app := setupApp(t, &fakeFetcher{})

	code, _ := doJSON(t, app, "GET", "/api/products/42/history", nil)
	require.Equal(t, fiber.StatusNotFound, code)
}

func TestTagEndpoints(t *testing.T) {
	url := "https://www.x-kom.pl/p/1-gpu.html"
	app := setupApp(t, &fakeFetcher{pages: map[string]string{url: gpuPage}})

	code, raw := doJSON(t, app, "POST", "/api/products", fiber.Map{"url": url})
	require.Equal(t, fiber.StatusCreated, code)
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &created))

	code, raw = doJSON(t, app, "POST", "/api/tags", fiber.Map{"name": "gpu", "color": "#f00"})
	require.Equal(t, fiber.StatusOK, code)
	var tag struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &tag))

	code, _ = doJSON(t, app, "POST",
		fmt.Sprintf("/api/products/%d/tags/%d", created.ID, tag.ID), nil)
	require.Equal(t, fiber.StatusOK, code)

	code, raw = doJSON(t, app, "GET", "/api/products", nil)
	require.Equal(t, fiber.StatusOK, code)
	var products []struct {
		Tags []struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		} `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(raw, &products))
	require.Len(t, products[0].Tags, 1)
	require.Equal(t, "gpu", products[0].Tags[0].Name)
	require.Equal(t, "#ff0000", products[0].Tags[0].Color)

	code, _ = doJSON(t, app, "DELETE",
		fmt.Sprintf("/api/products/%d/tags/%d", created.ID, tag.ID), nil)
	require.Equal(t, fiber.StatusOK, code)
}

func obs(price int64, currency string) db.Observation {
	return db.Observation{PriceCents: &price, Currency: &currency}
}

func TestDelta24h(t *testing.T) {
	latest := obs(289900, "PLN")
	baseline := obs(299900, "PLN")

	diff, percent := delta24h(latest, &baseline)
	require.NotNil(t, diff)
	require.Equal(t, int64(-10000), *diff)
	require.Equal(t, "-3.33%", *percent)

	up := obs(299900, "PLN")
	base := obs(289900, "PLN")
	diff, percent = delta24h(up, &base)
	require.Equal(t, int64(10000), *diff)
	require.Equal(t, "+3.45%", *percent)

	// no baseline, no delta
	diff, percent = delta24h(latest, nil)
	require.Nil(t, diff)
	require.Nil(t, percent)

	// currency mismatch is not comparable
	eur := obs(289900, "EUR")
	diff, percent = delta24h(latest, &eur)
	require.Nil(t, diff)
	require.Nil(t, percent)
}
