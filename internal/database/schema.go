package database

import (
	"database/sql"
	"log"
)

var schema = `
CREATE TABLE IF NOT EXISTS users(
    id           UUID PRIMARY KEY,
    email        TEXT NOT NULL UNIQUE,
    password     TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    role         TEXT NOT NULL DEFAULT 'user',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS accounts(
    user_id         UUID PRIMARY KEY REFERENCES users(id),
    balance         NUMERIC(20,2) NOT NULL DEFAULT 0,
    frozen_balance  NUMERIC(20,2) NOT NULL DEFAULT 0,
    total_deposited NUMERIC(20,2) NOT NULL DEFAULT 0,
    total_withdrawn NUMERIC(20,2) NOT NULL DEFAULT 0,
    total_spent     NUMERIC(20,2) NOT NULL DEFAULT 0,
    currency        TEXT NOT NULL DEFAULT 'RUB',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries(
    id              UUID PRIMARY KEY,
    user_id         UUID NOT NULL REFERENCES users(id),
    type            TEXT NOT NULL,
    amount          NUMERIC(20,2) NOT NULL CHECK (amount >= 0),
    currency        TEXT NOT NULL,
    balance_before  NUMERIC(20,2) NOT NULL,
    balance_after   NUMERIC(20,2) NOT NULL,
    status          TEXT NOT NULL DEFAULT 'completed',
    description     TEXT NOT NULL DEFAULT '',
    reference_id    TEXT,
    reference_table TEXT,
    admin_id        UUID,
    payment_method  TEXT,
    metadata        JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_type ON ledger_entries (type);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_created ON ledger_entries (created_at);
-- Deposit references are stored provider-qualified (provider:payment_id).
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_deposit_ref
    ON ledger_entries (reference_id) WHERE type = 'deposit' AND reference_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS withdrawal_requests(
    id              UUID PRIMARY KEY,
    user_id         UUID NOT NULL REFERENCES users(id),
    amount          NUMERIC(20,2) NOT NULL CHECK (amount > 0),
    currency        TEXT NOT NULL,
    method          TEXT NOT NULL DEFAULT 'card',
    bank_name       TEXT,
    card_number     TEXT NOT NULL,
    recipient_name  TEXT,
    additional_info TEXT,
    status          TEXT NOT NULL DEFAULT 'pending',
    admin_comment   TEXT,
    freeze_entry_id UUID REFERENCES ledger_entries(id),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_user ON withdrawal_requests (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_status ON withdrawal_requests (status);
`

// EnsureSchema creates the tables and indexes if they do not exist yet.
// Statements are idempotent so startup is safe against an existing database.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	log.Println("[DB] Schema ensured")
	return nil
}
