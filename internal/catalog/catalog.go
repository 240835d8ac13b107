// Package catalog holds the product master data the order service snapshots
// prices from. Soft delete happens through Deactivate; inactive products stay
// readable but cannot enter new orders.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/eleganza/commerce-core/internal/money"
	platform "github.com/eleganza/commerce-core/internal/platform/postgres"
)

var ErrProductNotFound = errors.New("product not found")

type Product struct {
	SKU      string      `json:"sku"`
	Name     string      `json:"name"`
	Price    money.Money `json:"price"`
	IsActive bool        `json:"is_active"`
}

type Store struct {
	db *platform.DB
}

func NewStore(db *platform.DB) *Store {
	return &Store{db: db}
}

// Upsert creates or updates a product and reactivates it.
func (s *Store) Upsert(ctx context.Context, p Product) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO products (sku, name, price_cents, currency, is_active)
		VALUES ($1,$2,$3,$4,TRUE)
		ON CONFLICT (sku) DO UPDATE
		SET name=EXCLUDED.name, price_cents=EXCLUDED.price_cents,
			currency=EXCLUDED.currency, is_active=TRUE`,
		p.SKU, p.Name, p.Price.Cents, p.Price.Currency)
	return err
}

// Deactivate soft deletes a product. Existing orders keep their price
// snapshots; new orders reject the SKU.
func (s *Store) Deactivate(ctx context.Context, sku string) error {
	ct, err := s.db.Pool.Exec(ctx, `UPDATE products SET is_active=FALSE WHERE sku=$1`, sku)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, sku)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sku string) (Product, error) {
	var p Product
	err := s.db.Pool.QueryRow(ctx, `
		SELECT sku, name, price_cents, currency, is_active FROM products WHERE sku=$1`, sku).
		Scan(&p.SKU, &p.Name, &p.Price.Cents, &p.Price.Currency, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, sku)
	}
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// Price returns the current unit price for an active or inactive product.
func (s *Store) Price(ctx context.Context, sku string) (money.Money, error) {
	p, err := s.Get(ctx, sku)
	if err != nil {
		return money.Money{}, err
	}
	return p.Price, nil
}

// Active reports whether the product can be ordered.
func (s *Store) Active(ctx context.Context, sku string) (bool, error) {
	p, err := s.Get(ctx, sku)
	if err != nil {
		return false, err
	}
	return p.IsActive, nil
}

// List returns active products ordered by SKU.
func (s *Store) List(ctx context.Context) ([]Product, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT sku, name, price_cents, currency, is_active
		FROM products WHERE is_active ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Price.Cents, &p.Price.Currency, &p.IsActive); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
