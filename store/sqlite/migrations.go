package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Credits store (SQLite).
var Migrations = migrate.NewGroup("credits")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_credits_accounts",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_accounts (
    id                     TEXT PRIMARY KEY,
    email                  TEXT NOT NULL DEFAULT '',
    display_name           TEXT NOT NULL DEFAULT '',
    credit_balance         INTEGER NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
    is_guest               INTEGER NOT NULL DEFAULT 1,
    linked_installation_id TEXT NOT NULL DEFAULT '',
    merged_into            TEXT NOT NULL DEFAULT '',
    version                INTEGER NOT NULL DEFAULT 0,
    created_at             TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at             TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_credits_accounts_guest
    ON credits_accounts (linked_installation_id, created_at)
    WHERE is_guest = 1 AND merged_into = '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_credits_ledger_entries",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_ledger_entries (
    id            TEXT PRIMARY KEY,
    account_id    TEXT NOT NULL,
    amount        INTEGER NOT NULL CHECK (amount <> 0),
    kind          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    sequence      INTEGER NOT NULL,
    balance_after INTEGER NOT NULL,
    reference     TEXT NOT NULL DEFAULT '',
    timestamp     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_entries_account_seq ON credits_ledger_entries (account_id, sequence);
CREATE INDEX IF NOT EXISTS idx_credits_entries_account_ts ON credits_ledger_entries (account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_credits_entries_reference ON credits_ledger_entries (account_id, reference) WHERE reference <> '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_ledger_entries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_credits_purchases",
			Version: "20260301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_purchases (
    id                    TEXT PRIMARY KEY,
    account_id            TEXT NOT NULL,
    product_id            TEXT NOT NULL,
    credits_granted       INTEGER NOT NULL CHECK (credits_granted > 0),
    price_amount          TEXT NOT NULL DEFAULT '0',
    currency              TEXT NOT NULL DEFAULT '',
    vendor_transaction_id TEXT NOT NULL,
    is_restored           INTEGER NOT NULL DEFAULT 0,
    timestamp             TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_purchases_vendor_txn ON credits_purchases (vendor_transaction_id);
CREATE INDEX IF NOT EXISTS idx_credits_purchases_account_ts ON credits_purchases (account_id, timestamp);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_purchases`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_credits_free_credit_claims",
			Version: "20260301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_free_credit_claims (
    installation_id TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    claimed_at      TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS credits_free_credit_claims`)
				return err
			},
		},
	)
}
