// Package api exposes the tracker over a JSON HTTP interface.
package api

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"pricewatch-backend/lib/fetch"
	"pricewatch-backend/lib/search"
	"pricewatch-backend/services/tracker"
	"pricewatch-backend/services/tracker/db"

	"github.com/gofiber/fiber/v2"
)

type Server struct {
	svc     *tracker.Service
	fetcher search.Fetcher
}

func NewServer(svc *tracker.Service, fetcher search.Fetcher) *Server {
	return &Server{svc: svc, fetcher: fetcher}
}

// NewApp builds the fiber application with every route registered.
func NewApp(svc *tracker.Service, fetcher search.Fetcher) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "pricewatch",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			}
			if code >= 500 {
				slog.Error("request failed", "path", c.Path(), "err", err)
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	s := NewServer(svc, fetcher)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	app.Get("/api/products", s.listProducts)
	app.Post("/api/products", s.addProduct)
	app.Delete("/api/products/:id", s.deleteProduct)
	app.Post("/api/products/:id/rename", s.renameProduct)
	app.Post("/api/products/:id/move", s.moveProduct)
	app.Post("/api/products/order", s.reorderProducts)
	app.Get("/api/products/:id/history", s.history)
	app.Post("/api/products/:id/poll", s.pollProduct)
	app.Post("/api/poll", s.pollAll)

	app.Get("/api/tags", s.listTags)
	app.Post("/api/tags", s.upsertTag)
	app.Post("/api/products/:id/tags/:tagId", s.attachTag)
	app.Delete("/api/products/:id/tags/:tagId", s.detachTag)

	app.Get("/api/search", s.searchStore)

	return app
}

type productView struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Url          string   `json:"url"`
	Source       string   `json:"source"`
	CreatedAt    int64    `json:"created_at"`
	DisplayOrder int64    `json:"display_order"`
	Tags         []db.Tag `json:"tags"`

	LatestTs     *int64  `json:"latest_ts,omitempty"`
	PriceCents   *int64  `json:"price_cents,omitempty"`
	Currency     *string `json:"currency,omitempty"`
	InStock      *bool   `json:"in_stock,omitempty"`
	Error        *string `json:"error,omitempty"`
	DeltaCents   *int64  `json:"delta_24h_cents,omitempty"`
	DeltaPercent *string `json:"delta_24h_percent,omitempty"`
}

// listProducts returns every product with its latest observation, its
// tags, and the price movement over the trailing 24 hours.
func (s *Server) listProducts(c *fiber.Ctx) error {
	ctx := c.UserContext()

	products, err := s.svc.Products(ctx)
	if err != nil {
		return err
	}
	latest, err := s.svc.LatestObservations(ctx)
	if err != nil {
		return err
	}

	ids := make([]int64, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	tags, err := s.svc.TagsForProducts(ctx, ids)
	if err != nil {
		return err
	}

	cutoff := time.Now().Unix() - 24*60*60
	views := make([]productView, 0, len(products))
	for _, p := range products {
		view := productView{
			ID:           p.ID,
			Name:         p.Name,
			Url:          p.Url,
			Source:       p.Source,
			CreatedAt:    p.CreatedAt,
			DisplayOrder: p.DisplayOrder,
			Tags:         tags[p.ID],
		}
		if view.Tags == nil {
			view.Tags = []db.Tag{}
		}

		if obs, ok := latest[p.ID]; ok {
			view.LatestTs = &obs.Ts
			view.PriceCents = obs.PriceCents
			view.Currency = obs.Currency
			view.InStock = obs.InStock
			view.Error = obs.Error

			if obs.PriceCents != nil {
				baseline, err := s.svc.PricedObservationAtOrBefore(ctx, p.ID, cutoff)
				if err != nil {
					return err
				}
				view.DeltaCents, view.DeltaPercent = delta24h(obs, baseline)
			}
		}
		views = append(views, view)
	}
	return c.JSON(views)
}

// delta24h compares the latest priced observation against the newest
// one at least 24h old. Currencies must match or the delta is omitted.
func delta24h(latest db.Observation, baseline *db.Observation) (*int64, *string) {
	if baseline == nil || baseline.PriceCents == nil || latest.PriceCents == nil {
		return nil, nil
	}
	if latest.Currency == nil || baseline.Currency == nil || *latest.Currency != *baseline.Currency {
		return nil, nil
	}
	if *baseline.PriceCents == 0 {
		return nil, nil
	}

	diff := *latest.PriceCents - *baseline.PriceCents
	percent := float64(diff) / float64(*baseline.PriceCents) * 100
	formatted := formatPercent(percent)
	return &diff, &formatted
}

func formatPercent(p float64) string {
	sign := ""
	if p > 0 {
		sign = "+"
	}
	return sign + strconv.FormatFloat(p, 'f', 2, 64) + "%"
}

type addProductRequest struct {
	Url  string `json:"url"`
	Name string `json:"name"`
}

func (s *Server) addProduct(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req addProductRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	req.Url = strings.TrimSpace(req.Url)
	if req.Url == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing url")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.Url
	}
	source := fetch.DetectSource(req.Url)

	id, err := s.svc.AddProduct(ctx, name, req.Url, source)
	if errors.Is(err, tracker.ErrProductExists) {
		return fiber.NewError(fiber.StatusConflict, "product already tracked")
	}
	if err != nil {
		return err
	}

	// first observation lands right away so the list is never empty
	result, err := s.svc.PollProduct(ctx, id)
	if err != nil {
		slog.Error("initial poll failed", "product_id", id, "err", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": id,
		"ok": err == nil && result.OK,
	})
}

func (s *Server) deleteProduct(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	err = s.svc.DeleteProduct(c.UserContext(), int64(id))
	if errors.Is(err, tracker.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no such product")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) renameProduct(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing name")
	}

	err = s.svc.RenameProduct(c.UserContext(), int64(id), strings.TrimSpace(req.Name))
	if errors.Is(err, tracker.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no such product")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) moveProduct(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req struct {
		Direction string `json:"direction"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if req.Direction != "up" && req.Direction != "down" {
		return fiber.NewError(fiber.StatusBadRequest, "direction must be up or down")
	}

	err = s.svc.MoveProduct(c.UserContext(), int64(id), req.Direction)
	if errors.Is(err, tracker.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no such product")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) reorderProducts(c *fiber.Ctx) error {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := s.svc.SetProductOrder(c.UserContext(), req.IDs); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) history(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	product, err := s.svc.Product(c.UserContext(), int64(id))
	if err != nil {
		return err
	}
	if product == nil {
		return fiber.NewError(fiber.StatusNotFound, "no such product")
	}

	rows, err := s.svc.History(c.UserContext(), int64(id), limit)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []db.Observation{}
	}
	return c.JSON(rows)
}

func (s *Server) pollProduct(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	result, err := s.svc.PollProduct(c.UserContext(), int64(id))
	if errors.Is(err, tracker.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no such product")
	}
	if err != nil {
		return err
	}

	resp := fiber.Map{"ok": result.OK}
	if result.Err != nil {
		resp["error"] = result.Err.Error()
	}
	return c.JSON(resp)
}

func (s *Server) pollAll(c *fiber.Ctx) error {
	results, err := s.svc.PollAll(c.UserContext(), 0)
	if err != nil {
		return err
	}

	var ok int
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	return c.JSON(fiber.Map{"polled": len(results), "ok": ok})
}

func (s *Server) listTags(c *fiber.Ctx) error {
	tags, err := s.svc.Tags(c.UserContext())
	if err != nil {
		return err
	}
	if tags == nil {
		tags = []db.Tag{}
	}
	return c.JSON(tags)
}

func (s *Server) upsertTag(c *fiber.Ctx) error {
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing tag name")
	}

	id, err := s.svc.UpsertTag(c.UserContext(), strings.TrimSpace(req.Name), req.Color)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": id})
}

func (s *Server) attachTag(c *fiber.Ctx) error {
	productID, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	tagID, err := c.ParamsInt("tagId")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid tag id")
	}

	err = s.svc.AttachTag(c.UserContext(), int64(productID), int64(tagID))
	if errors.Is(err, tracker.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no such product or tag")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) detachTag(c *fiber.Ctx) error {
	productID, err := c.ParamsInt("id")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	tagID, err := c.ParamsInt("tagId")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid tag id")
	}

	if err := s.svc.DetachTag(c.UserContext(), int64(productID), int64(tagID)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) searchStore(c *fiber.Ctx) error {
	store := c.Query("store")
	query := strings.TrimSpace(c.Query("q"))
	if store == "" || query == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing store or q")
	}
	limit := c.QueryInt("limit", 10)
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	hits, err := search.Search(c.UserContext(), s.fetcher, store, query, limit)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	return c.JSON(hits)
}
