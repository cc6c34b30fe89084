// Package db holds the tracker's persisted row types and schema
// migrations.
package db

import (
	"pricewatch-backend/lib/sqliteutil"
)

// v1: the original products + observations layout.
const migrationV1 = `
CREATE TABLE IF NOT EXISTS products (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  url TEXT NOT NULL UNIQUE,
  source TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  product_id INTEGER NOT NULL,
  ts INTEGER NOT NULL,
  price_cents INTEGER,
  currency TEXT,
  in_stock INTEGER,
  title TEXT,
  raw_price_text TEXT,
  error TEXT,
  FOREIGN KEY(product_id) REFERENCES products(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_observations_product_ts
  ON observations(product_id, ts);
`

// v2: user-controlled product ordering and tags.
const migrationV2 = `
ALTER TABLE products ADD COLUMN display_order INTEGER NOT NULL DEFAULT 0;

UPDATE products SET display_order = id WHERE display_order = 0;

CREATE TABLE IF NOT EXISTS tags (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  color TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS product_tags (
  product_id INTEGER NOT NULL,
  tag_id INTEGER NOT NULL,
  PRIMARY KEY(product_id, tag_id),
  FOREIGN KEY(product_id) REFERENCES products(id) ON DELETE CASCADE,
  FOREIGN KEY(tag_id) REFERENCES tags(id) ON DELETE CASCADE
);
`

func Migrations() []sqliteutil.Migration {
	return []sqliteutil.Migration{
		{Version: 1, SQL: migrationV1},
		{Version: 2, SQL: migrationV2},
	}
}

type Product struct {
	ID           int64  `db:"id"`
	Name         string `db:"name"`
	Url          string `db:"url"`
	Source       string `db:"source"`
	CreatedAt    int64  `db:"created_at"`
	DisplayOrder int64  `db:"display_order"`
}

// Observation is one timestamped scrape result for a product. Rows
// are immutable once written; a null price with a non-null error
// means "no usable price this round".
type Observation struct {
	ID           int64   `db:"id"`
	ProductID    int64   `db:"product_id"`
	Ts           int64   `db:"ts"`
	PriceCents   *int64  `db:"price_cents"`
	Currency     *string `db:"currency"`
	InStock      *bool   `db:"in_stock"`
	Title        *string `db:"title"`
	RawPriceText *string `db:"raw_price_text"`
	Error        *string `db:"error"`
}

type Tag struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	Color string `db:"color"`
}
