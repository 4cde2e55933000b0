// Package vault defines the treasury singleton and its custodial balance
// containers.
package vault

import (
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/types"
)

// Treasury is the singleton custodial record. It holds the governance
// authority, the pause flag, and the monotonic payment counter whose
// pre-increment value seeds every pay receipt. It is created once by an
// authority-gated initializer and never destroyed.
type Treasury struct {
	types.Entity
	Address   addr.Address `json:"address"`
	Authority id.ID        `json:"authority"`
	Paused    bool         `json:"paused"`
	PayCount  uint64       `json:"pay_count"`
	Bump      uint8        `json:"bump"`
}

// New creates the treasury record for the given governance authority at the
// canonical singleton address.
func New(authority id.ID) *Treasury {
	address, bump := addr.Treasury()

	return &Treasury{
		Entity:    types.NewEntity(),
		Address:   address,
		Authority: authority,
		Bump:      bump,
	}
}

// Operational reports whether settlements may proceed.
func (t *Treasury) Operational() bool {
	return !t.Paused
}

// BalanceAddress derives the canonical address of the treasury's custodial
// container for an asset. The Nil asset denotes the native balance.
func (t *Treasury) BalanceAddress(asset id.ID) (addr.Address, uint8) {
	return addr.Balance(t.Address.Bytes(), asset.Bytes())
}

// Balance is one custodial balance container: the funds the treasury holds
// in custody for an (owner, asset) pair, or the treasury's own pooled
// balance per asset. Containers live at canonically derived addresses;
// supplying a non-canonical container to a settlement is always rejected.
type Balance struct {
	types.Entity
	Address addr.Address `json:"address"`
	Owner   string       `json:"owner"` // derivation owner context (actor ID or treasury address)
	Asset   id.ID        `json:"asset"` // Nil for the native asset
	Amount  types.Amount `json:"amount"`
	Bump    uint8        `json:"bump"`
}

// ActorBalanceAddress derives the canonical container address for an
// actor's (owner, asset) pair.
func ActorBalanceAddress(actor id.ID, asset id.ID) (addr.Address, uint8) {
	return addr.Balance(actor.Bytes(), asset.Bytes())
}
