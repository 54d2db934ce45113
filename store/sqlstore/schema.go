package sqlstore

// Amounts are TEXT on SQLite so decimals round-trip exactly;
// TIMESTAMP/BOOLEAN declared types make go-sqlite3 return time.Time and bool.
const sqliteSchema = `
	-- Costs (owned by the obligation ledger)
	CREATE TABLE IF NOT EXISTS costs (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		asset_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		total TEXT NOT NULL,
		currency TEXT NOT NULL,
		strategy TEXT NOT NULL,
		cost_date TIMESTAMP NOT NULL,
		invoiced BOOLEAN NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_costs_group_date ON costs(group_id, cost_date);

	-- Per-owner obligations
	CREATE TABLE IF NOT EXISTS cost_splits (
		id TEXT PRIMARY KEY,
		cost_id TEXT NOT NULL REFERENCES costs(id),
		owner_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TIMESTAMP NOT NULL,
		paid_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (cost_id, owner_id)
	);
	CREATE INDEX IF NOT EXISTS idx_splits_owner_status ON cost_splits(owner_id, status);
	CREATE INDEX IF NOT EXISTS idx_splits_status_due ON cost_splits(status, due_date);

	-- Wallets (one per owner and currency)
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		owner_type TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		balance TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (owner_type, owner_id, currency)
	);

	-- Wallet transactions (append-only)
	CREATE TABLE IF NOT EXISTS wallet_transactions (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference_type TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallet_tx_wallet ON wallet_transactions(wallet_id, created_at);

	-- Payments (append-only, status moves forward only)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		split_id TEXT NOT NULL REFERENCES cost_splits(id),
		payer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		method TEXT NOT NULL,
		provider TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_txn_id TEXT NOT NULL UNIQUE,
		provider_response TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_payments_split ON payments(split_id);
	CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments(status, created_at);

	-- Invoices
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		group_id TEXT NOT NULL,
		period_start TIMESTAMP NOT NULL,
		period_end TIMESTAMP NOT NULL,
		total TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TIMESTAMP NOT NULL,
		paid_at TIMESTAMP,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_group ON invoices(group_id, created_at);

	CREATE TABLE IF NOT EXISTS invoice_items (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		cost_id TEXT NOT NULL UNIQUE REFERENCES costs(id),
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);

	-- Group membership (owner set + ownership percentage)
	CREATE TABLE IF NOT EXISTS group_owners (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		percentage TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	-- Notifications
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		event TEXT NOT NULL,
		message TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		read_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);
`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS costs (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		asset_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		total NUMERIC(20,4) NOT NULL,
		currency TEXT NOT NULL,
		strategy TEXT NOT NULL,
		cost_date TIMESTAMPTZ NOT NULL,
		invoiced BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_costs_group_date ON costs(group_id, cost_date);

	CREATE TABLE IF NOT EXISTS cost_splits (
		id TEXT PRIMARY KEY,
		cost_id TEXT NOT NULL REFERENCES costs(id),
		owner_id TEXT NOT NULL,
		amount NUMERIC(20,4) NOT NULL,
		paid_amount NUMERIC(20,4) NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (cost_id, owner_id),
		CHECK (paid_amount <= amount)
	);
	CREATE INDEX IF NOT EXISTS idx_splits_owner_status ON cost_splits(owner_id, status);
	CREATE INDEX IF NOT EXISTS idx_splits_status_due ON cost_splits(status, due_date);

	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		owner_type TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		balance NUMERIC(20,4) NOT NULL CHECK (balance >= 0),
		currency TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (owner_type, owner_id, currency)
	);

	CREATE TABLE IF NOT EXISTS wallet_transactions (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		type TEXT NOT NULL,
		amount NUMERIC(20,4) NOT NULL,
		balance_after NUMERIC(20,4) NOT NULL,
		reference_type TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallet_tx_wallet ON wallet_transactions(wallet_id, created_at);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		split_id TEXT NOT NULL REFERENCES cost_splits(id),
		payer_id TEXT NOT NULL,
		amount NUMERIC(20,4) NOT NULL,
		currency TEXT NOT NULL,
		method TEXT NOT NULL,
		provider TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_txn_id TEXT NOT NULL UNIQUE,
		provider_response TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_payments_split ON payments(split_id);
	CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments(status, created_at);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		group_id TEXT NOT NULL,
		period_start TIMESTAMPTZ NOT NULL,
		period_end TIMESTAMPTZ NOT NULL,
		total NUMERIC(20,4) NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		paid_at TIMESTAMPTZ,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_group ON invoices(group_id, created_at);

	CREATE TABLE IF NOT EXISTS invoice_items (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		cost_id TEXT NOT NULL UNIQUE REFERENCES costs(id),
		description TEXT NOT NULL DEFAULT '',
		amount NUMERIC(20,4) NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);

	CREATE TABLE IF NOT EXISTS group_owners (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		percentage NUMERIC(7,4) NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		event TEXT NOT NULL,
		message TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		read_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);
`
