package postgres

import "context"

// Migrate applies the schema. Statements are idempotent so startup can run
// them unconditionally.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		sku TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
		currency TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		sku TEXT PRIMARY KEY REFERENCES products(sku),
		stock_quantity INT NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		reserved_stock INT NOT NULL DEFAULT 0 CHECK (reserved_stock >= 0 AND reserved_stock <= stock_quantity),
		low_stock_threshold INT NOT NULL DEFAULT 5,
		last_restock TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_history (
		id BIGSERIAL PRIMARY KEY,
		sku TEXT NOT NULL REFERENCES inventory(sku),
		old_stock INT NOT NULL,
		new_stock INT NOT NULL,
		old_reserved INT NOT NULL,
		new_reserved INT NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		customer TEXT NOT NULL,
		status TEXT NOT NULL,
		currency TEXT NOT NULL,
		total_cents BIGINT NOT NULL DEFAULT 0,
		tax_cents BIGINT NOT NULL DEFAULT 0,
		shipping_cents BIGINT NOT NULL DEFAULT 0,
		shipping_address TEXT NOT NULL DEFAULT '',
		billing_address TEXT NOT NULL DEFAULT '',
		tracking_number TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		sku TEXT NOT NULL,
		quantity INT NOT NULL CHECK (quantity >= 1),
		price_cents BIGINT NOT NULL,
		PRIMARY KEY (order_id, sku)
	)`,
	`CREATE TABLE IF NOT EXISTS order_status_history (
		id BIGSERIAL PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES orders(id),
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		user_id TEXT PRIMARY KEY,
		balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
		currency TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS payment_methods (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		method_type TEXT NOT NULL,
		cash_identifier TEXT NOT NULL DEFAULT '',
		handled_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES orders(id),
		method_id UUID NOT NULL REFERENCES payment_methods(id),
		amount_cents BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_order ON payments (order_id)`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		id BIGSERIAL PRIMARY KEY,
		reference UUID NOT NULL UNIQUE,
		entry_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		currency TEXT NOT NULL,
		order_id UUID,
		payment_id UUID,
		related_reference UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_payment ON ledger_transactions (payment_id, entry_type)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload JSONB NOT NULL,
		headers JSONB,
		traceparent TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		relay_id TEXT,
		lease_until TIMESTAMPTZ,
		retry_count INT NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (status, id)`,
}
