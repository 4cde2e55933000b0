// Package actor defines per-actor profiles and settlement counters.
package actor

import (
	"time"

	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/types"
)

// Profile tracks one actor's activity with the treasury. One per actor
// principal, created lazily on first registration, deposit, or withdrawal.
// TxCount is the actor's nonce stream: its pre-increment value seeds the
// actor's next receipt address.
type Profile struct {
	types.Entity
	Address        addr.Address `json:"address"`
	Authority      id.ID        `json:"authority"`
	JoinedAt       time.Time    `json:"joined_at"`
	TxCount        uint64       `json:"tx_count"`
	DepositCount   uint64       `json:"deposit_count"`
	WithdrawCount  uint64       `json:"withdraw_count"`
	TotalDeposited types.Amount `json:"total_deposited"`
	TotalWithdrawn types.Amount `json:"total_withdrawn"`
	LastDepositAt  time.Time    `json:"last_deposit_at,omitzero"`
	LastWithdrawAt time.Time    `json:"last_withdraw_at,omitzero"`
	RiskScore      uint8        `json:"risk_score"`
	Flags          uint8        `json:"flags"`
	Bump           uint8        `json:"bump"`
}

// New creates a fresh profile for an actor principal at its canonical
// address with zeroed counters.
func New(authority id.ID, now time.Time) *Profile {
	address, bump := addr.ActorProfile(authority.Bytes())

	return &Profile{
		Entity:    types.NewEntity(),
		Address:   address,
		Authority: authority,
		JoinedAt:  now,
		Bump:      bump,
	}
}

// NextSeed returns the counter value that seeds this actor's next receipt
// address: the current TxCount, before any settlement mutation.
func (p *Profile) NextSeed() uint64 {
	return p.TxCount
}

// RecordDeposit advances the deposit counters for one settled deposit.
// Returns false if the running total would overflow.
func (p *Profile) RecordDeposit(amount types.Amount, now time.Time) bool {
	total, ok := p.TotalDeposited.CheckedAdd(amount)
	if !ok {
		return false
	}

	p.TxCount++
	p.DepositCount++
	p.TotalDeposited = total
	p.LastDepositAt = now
	p.Touch()

	return true
}

// RecordWithdraw advances the withdrawal counters for one settled
// withdrawal. Returns false if the running total would overflow.
func (p *Profile) RecordWithdraw(amount types.Amount, now time.Time) bool {
	total, ok := p.TotalWithdrawn.CheckedAdd(amount)
	if !ok {
		return false
	}

	p.TxCount++
	p.WithdrawCount++
	p.TotalWithdrawn = total
	p.LastWithdrawAt = now
	p.Touch()

	return true
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p

	return &c
}
