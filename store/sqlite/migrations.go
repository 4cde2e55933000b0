package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Custody store (SQLite).
var Migrations = migrate.NewGroup("custody")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_custody_treasury",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS custody_treasury (
    address    TEXT PRIMARY KEY,
    authority  TEXT NOT NULL DEFAULT '',
    paused     INTEGER NOT NULL DEFAULT 0,
    pay_count  INTEGER NOT NULL DEFAULT 0,
    bump       INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS custody_treasury`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_custody_balances",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS custody_balances (
    address    TEXT PRIMARY KEY,
    owner      TEXT NOT NULL DEFAULT '',
    asset      TEXT NOT NULL DEFAULT '',
    amount     INTEGER NOT NULL DEFAULT 0,
    bump       INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_custody_balances_owner ON custody_balances (owner, asset);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS custody_balances`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_custody_actors",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS custody_actors (
    authority        TEXT PRIMARY KEY,
    address          TEXT NOT NULL DEFAULT '',
    joined_at        TEXT NOT NULL DEFAULT (datetime('now')),
    tx_count         INTEGER NOT NULL DEFAULT 0,
    deposit_count    INTEGER NOT NULL DEFAULT 0,
    withdraw_count   INTEGER NOT NULL DEFAULT 0,
    total_deposited  INTEGER NOT NULL DEFAULT 0,
    total_withdrawn  INTEGER NOT NULL DEFAULT 0,
    last_deposit_at  TEXT,
    last_withdraw_at TEXT,
    risk_score       INTEGER NOT NULL DEFAULT 0,
    flags            INTEGER NOT NULL DEFAULT 0,
    bump             INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_custody_actors_address ON custody_actors (address);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS custody_actors`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_custody_receipts",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS custody_receipts (
    address      TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL DEFAULT '',
    treasury     TEXT NOT NULL DEFAULT '',
    asset        TEXT NOT NULL DEFAULT '',
    direction    INTEGER NOT NULL DEFAULT 0,
    seed_counter INTEGER NOT NULL DEFAULT 0,
    pre_balance  INTEGER NOT NULL DEFAULT 0,
    post_balance INTEGER NOT NULL DEFAULT 0,
    slot         INTEGER NOT NULL DEFAULT 0,
    bump         INTEGER NOT NULL DEFAULT 0,
    payload      BLOB NOT NULL,
    timestamp    TEXT NOT NULL DEFAULT (datetime('now')),
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_custody_receipts_user ON custody_receipts (user_id, slot);
CREATE INDEX IF NOT EXISTS idx_custody_receipts_user_dir ON custody_receipts (user_id, direction, slot);
CREATE INDEX IF NOT EXISTS idx_custody_receipts_slot ON custody_receipts (slot);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS custody_receipts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_custody_slots",
			Version: "20250101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS custody_slots (
    id   INTEGER PRIMARY KEY CHECK (id = 1),
    slot INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO custody_slots (id, slot) VALUES (1, 0);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS custody_slots`)
				return err
			},
		},
	)
}
