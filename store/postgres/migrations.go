package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Custody store.
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
    paused     BOOLEAN NOT NULL DEFAULT FALSE,
    pay_count  BIGINT NOT NULL DEFAULT 0,
    bump       SMALLINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    amount     BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
    bump       SMALLINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    joined_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    tx_count         BIGINT NOT NULL DEFAULT 0,
    deposit_count    BIGINT NOT NULL DEFAULT 0,
    withdraw_count   BIGINT NOT NULL DEFAULT 0,
    total_deposited  BIGINT NOT NULL DEFAULT 0,
    total_withdrawn  BIGINT NOT NULL DEFAULT 0,
    last_deposit_at  TIMESTAMPTZ,
    last_withdraw_at TIMESTAMPTZ,
    risk_score       SMALLINT NOT NULL DEFAULT 0,
    flags            SMALLINT NOT NULL DEFAULT 0,
    bump             SMALLINT NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    direction    SMALLINT NOT NULL DEFAULT 0,
    seed_counter BIGINT NOT NULL DEFAULT 0,
    pre_balance  BIGINT NOT NULL DEFAULT 0,
    post_balance BIGINT NOT NULL DEFAULT 0,
    slot         BIGINT NOT NULL DEFAULT 0,
    bump         SMALLINT NOT NULL DEFAULT 0,
    payload      BYTEA NOT NULL,
    timestamp    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    id   INT PRIMARY KEY CHECK (id = 1),
    slot BIGINT NOT NULL DEFAULT 0
);

INSERT INTO custody_slots (id, slot) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
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
