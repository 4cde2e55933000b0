// Package memory provides the in-memory reference store.
//
// A single mutex serializes commits, mirroring the per-conflicting-account
// serialization the original host runtime provides. Every mutating call
// either applies its whole effect set or returns before the first write.
package memory

import (
	"context"
	"sync"

	custody "github.com/zephyon/custody"
	"github.com/zephyon/custody/actor"
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/receipt"
	"github.com/zephyon/custody/store"
	"github.com/zephyon/custody/types"
	"github.com/zephyon/custody/vault"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	treasury *vault.Treasury

	// Actor profiles keyed by actor principal
	actors map[string]*actor.Profile

	// Balance containers keyed by canonical address
	balances map[addr.Address]*vault.Balance

	// Receipts keyed by derived address, plus commit order for listings
	receipts     map[addr.Address]*receipt.Receipt
	receiptOrder []addr.Address

	// Monotonic commit sequence
	slot uint64

	closed bool
}

func New() *Store {
	return &Store{
		actors:   make(map[string]*actor.Profile),
		balances: make(map[addr.Address]*vault.Balance),
		receipts: make(map[addr.Address]*receipt.Receipt),
	}
}

// ==================== Treasury ====================

func (s *Store) CreateTreasury(_ context.Context, t *vault.Treasury) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, custody.ErrStoreClosed
	}
	if s.treasury != nil {
		return 0, custody.ErrAlreadyInitialized
	}

	c := *t
	s.treasury = &c
	s.slot++

	return s.slot, nil
}

func (s *Store) GetTreasury(_ context.Context) (*vault.Treasury, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.treasury == nil {
		return nil, custody.ErrNotInitialized
	}

	c := *s.treasury

	return &c, nil
}

func (s *Store) SetTreasuryPaused(_ context.Context, paused bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.treasury == nil {
		return 0, custody.ErrNotInitialized
	}

	s.treasury.Paused = paused
	s.treasury.Touch()
	s.slot++

	return s.slot, nil
}

// ==================== Actors ====================

func (s *Store) EnsureActor(_ context.Context, p *actor.Profile) (*actor.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Authority.String()
	if existing, ok := s.actors[key]; ok {
		return existing.Clone(), false, nil
	}

	s.actors[key] = p.Clone()
	s.slot++

	return p.Clone(), true, nil
}

func (s *Store) GetActor(_ context.Context, actorID id.ID) (*actor.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.actors[actorID.String()]; ok {
		return p.Clone(), nil
	}

	return nil, custody.ErrActorNotFound
}

// ==================== Balances ====================

func (s *Store) GetBalance(_ context.Context, address addr.Address) (*vault.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.balances[address]; ok {
		c := *b

		return &c, nil
	}

	return nil, custody.ErrBalanceNotFound
}

func (s *Store) CreditBalance(_ context.Context, container *vault.Balance, amount types.Amount) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[container.Address]
	if !ok {
		c := *container
		c.Amount = 0
		b = &c
	}

	sum, ok := b.Amount.CheckedAdd(amount)
	if !ok {
		return 0, custody.ErrMathOverflow
	}

	b.Amount = sum
	b.Touch()
	s.balances[b.Address] = b
	s.slot++

	return s.slot, nil
}

// ==================== Receipts ====================

func (s *Store) GetReceipt(_ context.Context, address addr.Address) (*receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.receipts[address]; ok {
		c := *r

		return &c, nil
	}

	return nil, custody.ErrReceiptNotFound
}

func (s *Store) ListReceipts(_ context.Context, opts receipt.ListOpts) ([]*receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*receipt.Receipt, 0)
	for _, address := range s.receiptOrder {
		r := s.receipts[address]
		if !opts.User.IsNil() && r.User.String() != opts.User.String() {
			continue
		}
		if opts.Direction != nil && r.Direction != *opts.Direction {
			continue
		}
		c := *r
		result = append(result, &c)
	}

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

// ==================== Settlement ====================

// ApplySettlement validates the entire effect set before the first write,
// so a rejected settlement leaves zero observable trace.
func (s *Store) ApplySettlement(_ context.Context, set *store.Settlement) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, custody.ErrStoreClosed
	}
	if s.treasury == nil {
		return 0, custody.ErrNotInitialized
	}
	if !s.treasury.Operational() {
		return 0, custody.ErrPaused
	}
	if set.Amount.IsZero() {
		return 0, custody.ErrInvalidAmount
	}

	// Debit side must exist and cover the amount.
	debit, ok := s.balances[set.Debit.Address]
	if !ok || debit.Amount < set.Amount {
		return 0, custody.ErrInsufficientFunds
	}

	// Credit side: resolve, or plan provisioning. Never provision before
	// every other check has passed.
	credit, haveCredit := s.balances[set.Credit.Address]
	if !haveCredit && !set.ProvisionCredit {
		return 0, custody.ErrBalanceNotFound
	}
	if haveCredit {
		if _, ok := credit.Amount.CheckedAdd(set.Amount); !ok {
			return 0, custody.ErrMathOverflow
		}
	}

	// Receipt address must be vacant: this is the replay protection.
	if set.Receipt != nil {
		if _, occupied := s.receipts[set.Receipt.Address]; occupied {
			return 0, custody.ErrAddressOccupied
		}
	}

	// A pay that raced on the counter no longer matches its derived
	// address; it loses with the same conflict the address check gives.
	if set.AdvancePayCount && set.Receipt != nil && set.Receipt.SeedCounter != s.treasury.PayCount {
		return 0, custody.ErrAddressOccupied
	}

	// Trial-advance the actor counters on a clone so an overflow rejects
	// the settlement without leaking a mutation.
	var advanced *actor.Profile
	if !set.Actor.IsNil() {
		p, ok := s.actors[set.Actor.String()]
		if !ok {
			return 0, custody.ErrActorNotFound
		}

		advanced = p.Clone()
		switch set.Direction {
		case receipt.UserToTreasury:
			ok = advanced.RecordDeposit(set.Amount, set.Now)
		case receipt.TreasuryToUser:
			ok = advanced.RecordWithdraw(set.Amount, set.Now)
		default:
			ok = false
		}
		if !ok {
			return 0, custody.ErrMathOverflow
		}
	}

	// All preconditions hold: commit the effect set.
	s.slot++

	debit.Amount -= set.Amount
	debit.Touch()

	if !haveCredit {
		credit = &vault.Balance{
			Entity:  types.NewEntity(),
			Address: set.Credit.Address,
			Owner:   set.Credit.Owner,
			Asset:   set.Credit.Asset,
			Bump:    set.Credit.Bump,
		}
		s.balances[credit.Address] = credit
	}
	credit.Amount += set.Amount
	credit.Touch()

	if advanced != nil {
		s.actors[set.Actor.String()] = advanced
	}

	if set.AdvancePayCount {
		s.treasury.PayCount++
		s.treasury.Touch()
	}

	if set.Receipt != nil {
		r := *set.Receipt
		r.Slot = s.slot
		s.receipts[r.Address] = &r
		s.receiptOrder = append(s.receiptOrder, r.Address)
	}

	return s.slot, nil
}

func (s *Store) CurrentSlot(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.slot, nil
}

// ==================== Core ====================

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return custody.ErrStoreClosed
	}

	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}
