// Package postgres implements the Custody store on PostgreSQL via Grove ORM.
//
// Settlements are serialized by a store-level mutex; the receipt table's
// primary key doubles as the cross-process replay guard, so a racer from
// another process still fails its insert even though it never contended
// for this mutex.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	custody "github.com/zephyon/custody"
	"github.com/zephyon/custody/actor"
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/receipt"
	custodystore "github.com/zephyon/custody/store"
	"github.com/zephyon/custody/types"
	"github.com/zephyon/custody/vault"
)

// compile-time interface check
var _ custodystore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db  *grove.DB
	pg *pgdriver.PgDB

	// Serializes settlement effect sets within this process.
	mu sync.Mutex
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("custody/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("custody/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Treasury ====================

func (s *Store) CreateTreasury(ctx context.Context, t *vault.Treasury) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := toTreasuryModel(t)
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		if isConflict(err) {
			return 0, custody.ErrAlreadyInitialized
		}
		return 0, err
	}

	return s.nextSlot(ctx)
}

func (s *Store) GetTreasury(ctx context.Context) (*vault.Treasury, error) {
	m := new(treasuryModel)
	err := s.pg.NewSelect(m).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, custody.ErrNotInitialized
		}
		return nil, err
	}
	return fromTreasuryModel(m)
}

func (s *Store) SetTreasuryPaused(ctx context.Context, paused bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.pg.NewUpdate((*treasuryModel)(nil)).
		Set("paused = ?", paused).
		Set("updated_at = ?", now()).
		Where("1 = 1").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, custody.ErrNotInitialized
	}

	return s.nextSlot(ctx)
}

// ==================== Actors ====================

func (s *Store) EnsureActor(ctx context.Context, p *actor.Profile) (*actor.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getActor(ctx, p.Authority)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, custody.ErrActorNotFound) {
		return nil, false, err
	}

	m := toActorModel(p)
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		// A concurrent registration won the insert; return its row.
		if isConflict(err) {
			existing, err := s.getActor(ctx, p.Authority)
			return existing, false, err
		}
		return nil, false, err
	}
	if _, err := s.nextSlot(ctx); err != nil {
		return nil, false, err
	}

	return p.Clone(), true, nil
}

func (s *Store) GetActor(ctx context.Context, actorID id.ID) (*actor.Profile, error) {
	return s.getActor(ctx, actorID)
}

func (s *Store) getActor(ctx context.Context, actorID id.ID) (*actor.Profile, error) {
	m := new(actorModel)
	err := s.pg.NewSelect(m).
		Where("authority = ?", actorID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, custody.ErrActorNotFound
		}
		return nil, err
	}
	return fromActorModel(m)
}

// ==================== Balances ====================

func (s *Store) GetBalance(ctx context.Context, address addr.Address) (*vault.Balance, error) {
	m := new(balanceModel)
	err := s.pg.NewSelect(m).
		Where("address = ?", address.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, custody.ErrBalanceNotFound
		}
		return nil, err
	}
	return fromBalanceModel(m)
}

func (s *Store) CreditBalance(ctx context.Context, container *vault.Balance, amount types.Amount) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.credit(ctx, container, amount); err != nil {
		return 0, err
	}

	return s.nextSlot(ctx)
}

// credit adds amount to a container, provisioning it when absent. Callers
// hold s.mu.
func (s *Store) credit(ctx context.Context, container *vault.Balance, amount types.Amount) error {
	existing, err := s.GetBalance(ctx, container.Address)
	if err != nil && !errors.Is(err, custody.ErrBalanceNotFound) {
		return err
	}

	if existing != nil {
		if _, ok := existing.Amount.CheckedAdd(amount); !ok {
			return custody.ErrMathOverflow
		}
		_, err := s.pg.NewUpdate((*balanceModel)(nil)).
			Set("amount = amount + ?", amount.Uint64()).
			Set("updated_at = ?", now()).
			Where("address = ?", container.Address.String()).
			Exec(ctx)
		return err
	}

	fresh := *container
	fresh.Amount = amount
	fresh.Entity = types.NewEntity()
	_, err = s.pg.NewInsert(toBalanceModel(&fresh)).Exec(ctx)
	return err
}

// debit subtracts amount with a sufficiency guard in the same statement.
// Callers hold s.mu.
func (s *Store) debit(ctx context.Context, address addr.Address, amount types.Amount) error {
	res, err := s.pg.NewUpdate((*balanceModel)(nil)).
		Set("amount = amount - ?", amount.Uint64()).
		Set("updated_at = ?", now()).
		Where("address = ?", address.String()).
		Where("amount >= ?", amount.Uint64()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return custody.ErrInsufficientFunds
	}
	return nil
}

// ==================== Receipts ====================

func (s *Store) GetReceipt(ctx context.Context, address addr.Address) (*receipt.Receipt, error) {
	m := new(receiptModel)
	err := s.pg.NewSelect(m).
		Where("address = ?", address.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, custody.ErrReceiptNotFound
		}
		return nil, err
	}
	return fromReceiptModel(m)
}

func (s *Store) ListReceipts(ctx context.Context, opts receipt.ListOpts) ([]*receipt.Receipt, error) {
	var models []receiptModel
	q := s.pg.NewSelect(&models)

	if !opts.User.IsNil() {
		q = q.Where("user_id = ?", opts.User.String())
	}
	if opts.Direction != nil {
		q = q.Where("direction = ?", uint8(*opts.Direction))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("slot ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*receipt.Receipt, len(models))
	for i := range models {
		r, err := fromReceiptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Settlement ====================

// ApplySettlement commits one settlement effect set. The receipt insert
// acts as the reservation: it lands first, so a replayed nonce or a lost
// cross-process race fails before any balance moves. Later failures
// compensate by removing the reservation and restoring the debit.
func (s *Store) ApplySettlement(ctx context.Context, set *custodystore.Settlement) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.GetTreasury(ctx)
	if err != nil {
		return 0, err
	}
	if !t.Operational() {
		return 0, custody.ErrPaused
	}
	if set.Amount.IsZero() {
		return 0, custody.ErrInvalidAmount
	}

	debit, err := s.GetBalance(ctx, set.Debit.Address)
	if err != nil {
		if errors.Is(err, custody.ErrBalanceNotFound) {
			return 0, custody.ErrInsufficientFunds
		}
		return 0, err
	}
	if debit.Amount < set.Amount {
		return 0, custody.ErrInsufficientFunds
	}

	creditBal, err := s.GetBalance(ctx, set.Credit.Address)
	if err != nil && !errors.Is(err, custody.ErrBalanceNotFound) {
		return 0, err
	}
	if creditBal == nil && !set.ProvisionCredit {
		return 0, custody.ErrBalanceNotFound
	}
	if creditBal != nil {
		if _, ok := creditBal.Amount.CheckedAdd(set.Amount); !ok {
			return 0, custody.ErrMathOverflow
		}
	}

	if set.AdvancePayCount && set.Receipt != nil && set.Receipt.SeedCounter != t.PayCount {
		return 0, custody.ErrAddressOccupied
	}

	var advanced *actor.Profile
	if !set.Actor.IsNil() {
		p, err := s.getActor(ctx, set.Actor)
		if err != nil {
			return 0, err
		}

		advanced = p.Clone()
		var ok bool
		switch set.Direction {
		case receipt.UserToTreasury:
			ok = advanced.RecordDeposit(set.Amount, set.Now)
		case receipt.TreasuryToUser:
			ok = advanced.RecordWithdraw(set.Amount, set.Now)
		}
		if !ok {
			return 0, custody.ErrMathOverflow
		}
	}

	// Reservation: the receipt's primary key is the replay guard.
	if set.Receipt != nil {
		m, err := toReceiptModel(set.Receipt)
		if err != nil {
			return 0, err
		}
		if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
			if isConflict(err) {
				return 0, custody.ErrAddressOccupied
			}
			return 0, err
		}
	}

	unreserve := func() {
		if set.Receipt == nil {
			return
		}
		//nolint:errcheck // best-effort compensation
		_, _ = s.pg.NewDelete((*receiptModel)(nil)).
			Where("address = ?", set.Receipt.Address.String()).
			Exec(ctx)
	}

	if err := s.debit(ctx, set.Debit.Address, set.Amount); err != nil {
		unreserve()
		return 0, err
	}

	undoDebit := func() {
		//nolint:errcheck // best-effort compensation
		_, _ = s.pg.NewUpdate((*balanceModel)(nil)).
			Set("amount = amount + ?", set.Amount.Uint64()).
			Where("address = ?", set.Debit.Address.String()).
			Exec(ctx)
	}

	creditContainer := &vault.Balance{
		Address: set.Credit.Address,
		Owner:   set.Credit.Owner,
		Asset:   set.Credit.Asset,
		Bump:    set.Credit.Bump,
	}
	if err := s.credit(ctx, creditContainer, set.Amount); err != nil {
		undoDebit()
		unreserve()
		return 0, err
	}

	if advanced != nil {
		m := toActorModel(advanced)
		m.UpdatedAt = now()
		if _, err := s.pg.NewUpdate(m).WherePK().Exec(ctx); err != nil {
			return 0, err
		}
	}

	if set.AdvancePayCount {
		res, err := s.pg.NewUpdate((*treasuryModel)(nil)).
			Set("pay_count = pay_count + 1").
			Set("updated_at = ?", now()).
			Where("pay_count = ?", set.Receipt.SeedCounter).
			Exec(ctx)
		if err != nil {
			return 0, err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if rows == 0 {
			// Another process advanced the counter first.
			undoDebit()
			unreserve()
			return 0, custody.ErrAddressOccupied
		}
	}

	slot, err := s.nextSlot(ctx)
	if err != nil {
		return 0, err
	}

	if set.Receipt != nil {
		set.Receipt.Slot = slot
		_, err = s.pg.NewUpdate((*receiptModel)(nil)).
			Set("slot = ?", slot).
			Where("address = ?", set.Receipt.Address.String()).
			Exec(ctx)
		if err != nil {
			return 0, err
		}
	}

	return slot, nil
}

func (s *Store) CurrentSlot(ctx context.Context) (uint64, error) {
	m := new(slotModel)
	if err := s.pg.NewSelect(m).Where("id = ?", 1).Scan(ctx); err != nil {
		return 0, err
	}
	return m.Slot, nil
}

// nextSlot advances and returns the monotonic commit counter. Callers
// hold s.mu.
func (s *Store) nextSlot(ctx context.Context) (uint64, error) {
	_, err := s.pg.NewUpdate((*slotModel)(nil)).
		Set("slot = slot + 1").
		Where("id = ?", 1).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return s.CurrentSlot(ctx)
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isConflict reports a unique-constraint violation.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
