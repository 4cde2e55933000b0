// Package plugin provides an extensible plugin system for Custody.
// Plugins can hook into lifecycle and settlement events to extend
// functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Governance hooks
// ──────────────────────────────────────────────────

// OnTreasuryInitialized is called once when the treasury singleton is
// created.
type OnTreasuryInitialized interface {
	Plugin
	OnTreasuryInitialized(ctx context.Context, treasury interface{}) error
}

// OnPauseChanged is called when the governance pause flag toggles.
type OnPauseChanged interface {
	Plugin
	OnPauseChanged(ctx context.Context, paused bool, slot uint64) error
}

// ──────────────────────────────────────────────────
// Actor hooks
// ──────────────────────────────────────────────────

// OnActorRegistered is called when an actor profile is created.
type OnActorRegistered interface {
	Plugin
	OnActorRegistered(ctx context.Context, profile interface{}) error
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnDeposit is called after a deposit settlement commits.
type OnDeposit interface {
	Plugin
	OnDeposit(ctx context.Context, rcpt interface{}) error
}

// OnWithdraw is called after a withdrawal settlement commits.
type OnWithdraw interface {
	Plugin
	OnWithdraw(ctx context.Context, rcpt interface{}) error
}

// OnPay is called after a payment settlement commits.
type OnPay interface {
	Plugin
	OnPay(ctx context.Context, rcpt interface{}) error
}

// OnReceiptCreated is called after any settlement that produced a receipt,
// regardless of direction. Indexer-style plugins use this single hook
// instead of the three per-direction ones.
type OnReceiptCreated interface {
	Plugin
	OnReceiptCreated(ctx context.Context, rcpt interface{}) error
}

// ──────────────────────────────────────────────────
// Risk scoring
// ──────────────────────────────────────────────────

// RiskScorer provides custom actor risk scoring after settlements.
type RiskScorer interface {
	Plugin
	ScorerName() string
	Score(ctx context.Context, profile interface{}) (uint8, error)
}
