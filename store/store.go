// Package store defines the storage contract for Custody state.
//
// The store commits a settlement's entire effect set atomically or not at
// all, rejects creation at an occupied address, and assigns every commit a
// monotonically increasing slot. Two settlements that would write the same
// receipt address are mutually exclusive by construction: exactly one ever
// succeeds.
package store

import (
	"context"
	"time"

	"github.com/zephyon/custody/actor"
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/receipt"
	"github.com/zephyon/custody/types"
	"github.com/zephyon/custody/vault"
)

// Container addresses one custodial balance container inside a settlement
// effect set. Owner and Asset carry the derivation context so the store can
// provision the container lazily.
type Container struct {
	Address addr.Address
	Owner   string // derivation owner context (actor ID string or treasury address hex)
	Asset   id.ID
	Bump    uint8
}

// Settlement is one atomic effect set: a debit, a credit, the counter
// advances, and an optional receipt insert. The store commits all of it or
// none of it.
//
// Inside ApplySettlement the store re-verifies, under its own
// serialization, that the treasury is operational, that the debit container
// covers the amount, and that the receipt address (if any) is vacant,
// returning custody.ErrPaused, custody.ErrInsufficientFunds, or
// custody.ErrAddressOccupied respectively, with zero observable effect.
type Settlement struct {
	Direction receipt.Direction
	Asset     id.ID // Nil for the native asset
	Amount    types.Amount

	Debit  Container
	Credit Container
	// ProvisionCredit allows lazy creation of the credit container. It must
	// only ever take effect after every other precondition has passed: no
	// container may be created on a path that fails.
	ProvisionCredit bool

	// Actor is the profile whose counters advance; Nil for pay settlements,
	// which never mutate a profile.
	Actor id.ID

	// AdvancePayCount increments treasury.PayCount exactly once; the
	// receipt's SeedCounter must equal the pre-increment value or the
	// settlement lost its race and fails with custody.ErrAddressOccupied.
	AdvancePayCount bool

	// Receipt, when set, is inserted at Receipt.Address (insert-or-fail).
	Receipt *receipt.Receipt

	Now time.Time
}

// Store is the unified storage interface for all Custody state.
type Store interface {
	// Treasury methods
	CreateTreasury(ctx context.Context, t *vault.Treasury) (uint64, error)
	GetTreasury(ctx context.Context) (*vault.Treasury, error)
	SetTreasuryPaused(ctx context.Context, paused bool) (uint64, error)

	// Actor methods
	// EnsureActor is idempotent lazy creation: it returns the stored
	// profile and whether this call created it.
	EnsureActor(ctx context.Context, p *actor.Profile) (*actor.Profile, bool, error)
	GetActor(ctx context.Context, actorID id.ID) (*actor.Profile, error)

	// Balance methods
	GetBalance(ctx context.Context, address addr.Address) (*vault.Balance, error)
	// CreditBalance is the external funding hook: it provisions the
	// container if absent and adds amount. It stands in for the
	// out-of-scope transport that funds containers in a deployment.
	CreditBalance(ctx context.Context, container *vault.Balance, amount types.Amount) (uint64, error)

	// Receipt methods
	GetReceipt(ctx context.Context, address addr.Address) (*receipt.Receipt, error)
	ListReceipts(ctx context.Context, opts receipt.ListOpts) ([]*receipt.Receipt, error)

	// ApplySettlement atomically commits one settlement effect set and
	// returns the assigned commit slot.
	ApplySettlement(ctx context.Context, s *Settlement) (uint64, error)

	// CurrentSlot returns the latest assigned commit slot.
	CurrentSlot(ctx context.Context) (uint64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
