package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"pricewatch-backend/services/tracker/db"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AddProduct registers a url for tracking. The url is the business
// key: adding one that is already tracked returns ErrProductExists.
func (s *Service) AddProduct(ctx context.Context, name, url, source string) (int64, error) {
	ctx, span := tracer.Start(ctx, "AddProduct")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products(name, url, source, created_at, display_order)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(display_order), 0) + 1 FROM products))`,
		name, url, source, time.Now().Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrProductExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("add product: %w", err)
	}
	return res.LastInsertId()
}

// Products lists tracked products in display order, ties broken by id.
func (s *Service) Products(ctx context.Context) ([]db.Product, error) {
	var out []db.Product
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, name, url, source, created_at, display_order
		FROM products
		ORDER BY display_order, id`,
	)
	return out, err
}

// Product returns a single product, or nil when the id is unknown.
func (s *Service) Product(ctx context.Context, id int64) (*db.Product, error) {
	var p db.Product
	err := s.db.GetContext(ctx, &p, `
		SELECT id, name, url, source, created_at, display_order
		FROM products WHERE id = ?`, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProduct removes a product along with its observations and tag
// links.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "DeleteProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product_id", id))

	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) RenameProduct(ctx context.Context, id int64, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveProduct swaps a product's display order with its neighbor in
// the given direction ("up" or "down"). Moving past either end is a
// no-op.
func (s *Service) MoveProduct(ctx context.Context, id int64, direction string) error {
	ctx, span := tracer.Start(ctx, "MoveProduct")
	defer span.End()

	if direction != "up" && direction != "down" {
		return fmt.Errorf("invalid direction: %q", direction)
	}

	products, err := s.Products(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i, p := range products {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	other := idx - 1
	if direction == "down" {
		other = idx + 1
	}
	if other < 0 || other >= len(products) {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// orders can collide after v1-era rows; reassigning both slots
	// from their list positions keeps the swap stable either way
	a, b := products[idx], products[other]
	if _, err := tx.ExecContext(ctx, `UPDATE products SET display_order = ? WHERE id = ?`, int64(other+1), a.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE products SET display_order = ? WHERE id = ?`, int64(idx+1), b.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetProductOrder reassigns display order to match the given id list,
// which must be a permutation of every tracked product.
func (s *Service) SetProductOrder(ctx context.Context, ids []int64) error {
	ctx, span := tracer.Start(ctx, "SetProductOrder")
	defer span.End()

	products, err := s.Products(ctx)
	if err != nil {
		return err
	}
	if len(ids) != len(products) {
		return fmt.Errorf("order must include every product: got %d ids, have %d products", len(ids), len(products))
	}
	known := make(map[int64]bool, len(products))
	for _, p := range products {
		known[p.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("unknown product id in order: %d", id)
		}
		delete(known, id)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE products SET display_order = ? WHERE id = ?`, int64(i+1), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

var hexColorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
var shortHexColorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{3}$`)

const defaultTagColor = "#666666"

// normalizeTagColor coerces arbitrary input to a 7 character #RRGGBB
// string, falling back to the default gray.
func normalizeTagColor(color string) string {
	c := strings.TrimSpace(color)
	if hexColorRegex.MatchString(c) {
		return strings.ToLower(c)
	}
	if shortHexColorRegex.MatchString(c) {
		return strings.ToLower(fmt.Sprintf(
			"#%c%c%c%c%c%c", c[1], c[1], c[2], c[2], c[3], c[3],
		))
	}
	return defaultTagColor
}

// UpsertTag creates a tag or updates the color of an existing one.
func (s *Service) UpsertTag(ctx context.Context, name, color string) (int64, error) {
	ctx, span := tracer.Start(ctx, "UpsertTag")
	defer span.End()

	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("tag name cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags(name, color) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET color = excluded.color`,
		name, normalizeTagColor(color),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	var id int64
	err = s.db.GetContext(ctx, &id, `SELECT id FROM tags WHERE name = ?`, name)
	return id, err
}

func (s *Service) Tags(ctx context.Context) ([]db.Tag, error) {
	var out []db.Tag
	err := s.db.SelectContext(ctx, &out, `SELECT id, name, color FROM tags ORDER BY name`)
	return out, err
}

func (s *Service) AttachTag(ctx context.Context, productID, tagID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO product_tags(product_id, tag_id) VALUES (?, ?)`,
		productID, tagID,
	)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return ErrNotFound
	}
	return err
}

func (s *Service) DetachTag(ctx context.Context, productID, tagID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM product_tags WHERE product_id = ? AND tag_id = ?`,
		productID, tagID,
	)
	return err
}

// TagsForProducts resolves the tags of many products at once.
func (s *Service) TagsForProducts(ctx context.Context, productIDs []int64) (map[int64][]db.Tag, error) {
	out := make(map[int64][]db.Tag)
	if len(productIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT pt.product_id, t.id, t.name, t.color
		FROM product_tags pt JOIN tags t ON t.id = pt.tag_id
		WHERE pt.product_id IN (?)
		ORDER BY t.name`, productIDs,
	)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID int64
		var tag db.Tag
		if err := rows.Scan(&productID, &tag.ID, &tag.Name, &tag.Color); err != nil {
			return nil, err
		}
		out[productID] = append(out[productID], tag)
	}
	return out, rows.Err()
}

func (s *Service) TagsForProduct(ctx context.Context, productID int64) ([]db.Tag, error) {
	var out []db.Tag
	err := s.db.SelectContext(ctx, &out, `
		SELECT t.id, t.name, t.color
		FROM product_tags pt JOIN tags t ON t.id = pt.tag_id
		WHERE pt.product_id = ?
		ORDER BY t.name`, productID,
	)
	return out, err
}
