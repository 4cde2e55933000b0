// Package mongo implements the Custody store on MongoDB via Grove ORM.
//
// Settlements are serialized by a store-level mutex; the receipt
// collection's _id doubles as the cross-process replay guard, so a racer
// from another process still fails its insert even though it never
// contended for this mutex. Conditional balance and counter moves go
// through single filtered $inc updates so a lost race surfaces as a
// zero-match result.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	custody "github.com/zephyon/custody"
	"github.com/zephyon/custody/actor"
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/receipt"
	custodystore "github.com/zephyon/custody/store"
	"github.com/zephyon/custody/types"
	"github.com/zephyon/custody/vault"
)

// Collection name constants.
const (
	colTreasury = "custody_treasury"
	colBalances = "custody_balances"
	colActors   = "custody_actors"
	colReceipts = "custody_receipts"
	colSlots    = "custody_slots"
)

// compile-time interface check
var _ custodystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB

	// Serializes settlement effect sets within this process.
	mu sync.Mutex
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all custody collections and seeds the commit
// slot counter document.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("custody/mongo: migrate %s indexes: %w", col, err)
		}
	}

	_, err := s.mdb.Collection(colSlots).UpdateOne(ctx,
		bson.M{"_id": 1},
		bson.M{"$setOnInsert": bson.M{"slot": uint64(0)}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("custody/mongo: seed slot counter: %w", err)
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, custody.ErrAlreadyInitialized
		}
		return 0, fmt.Errorf("custody/mongo: create treasury: %w", err)
	}

	return s.nextSlot(ctx)
}

func (s *Store) GetTreasury(ctx context.Context) (*vault.Treasury, error) {
	var m treasuryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, custody.ErrNotInitialized
		}
		return nil, fmt.Errorf("custody/mongo: get treasury: %w", err)
	}
	return fromTreasuryModel(&m)
}

func (s *Store) SetTreasuryPaused(ctx context.Context, paused bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.mdb.NewUpdate((*treasuryModel)(nil)).
		Filter(bson.M{}).
		Set("paused", paused).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("custody/mongo: set treasury paused: %w", err)
	}
	if res.MatchedCount() == 0 {
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		// A concurrent registration won the insert; return its document.
		if mongo.IsDuplicateKeyError(err) {
			existing, err := s.getActor(ctx, p.Authority)
			return existing, false, err
		}
		return nil, false, fmt.Errorf("custody/mongo: ensure actor: %w", err)
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
	var m actorModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": actorID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, custody.ErrActorNotFound
		}
		return nil, fmt.Errorf("custody/mongo: get actor: %w", err)
	}
	return fromActorModel(&m)
}

// ==================== Balances ====================

func (s *Store) GetBalance(ctx context.Context, address addr.Address) (*vault.Balance, error) {
	var m balanceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": address.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, custody.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("custody/mongo: get balance: %w", err)
	}
	return fromBalanceModel(&m)
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
		_, err := s.mdb.Collection(colBalances).UpdateOne(ctx,
			bson.M{"_id": container.Address.String()},
			bson.M{
				"$inc": bson.M{"amount": int64(amount.Uint64())},
				"$set": bson.M{"updated_at": now()},
			},
		)
		if err != nil {
			return fmt.Errorf("custody/mongo: credit balance: %w", err)
		}
		return nil
	}

	fresh := *container
	fresh.Amount = amount
	fresh.Entity = types.NewEntity()
	if _, err := s.mdb.NewInsert(toBalanceModel(&fresh)).Exec(ctx); err != nil {
		return fmt.Errorf("custody/mongo: provision balance: %w", err)
	}
	return nil
}

// debit subtracts amount with a sufficiency guard in the update filter.
// Callers hold s.mu.
func (s *Store) debit(ctx context.Context, address addr.Address, amount types.Amount) error {
	res, err := s.mdb.Collection(colBalances).UpdateOne(ctx,
		bson.M{
			"_id":    address.String(),
			"amount": bson.M{"$gte": int64(amount.Uint64())},
		},
		bson.M{
			"$inc": bson.M{"amount": -int64(amount.Uint64())},
			"$set": bson.M{"updated_at": now()},
		},
	)
	if err != nil {
		return fmt.Errorf("custody/mongo: debit balance: %w", err)
	}
	if res.MatchedCount == 0 {
		return custody.ErrInsufficientFunds
	}
	return nil
}

// ==================== Receipts ====================

func (s *Store) GetReceipt(ctx context.Context, address addr.Address) (*receipt.Receipt, error) {
	var m receiptModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": address.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, custody.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("custody/mongo: get receipt: %w", err)
	}
	return fromReceiptModel(&m)
}

func (s *Store) ListReceipts(ctx context.Context, opts receipt.ListOpts) ([]*receipt.Receipt, error) {
	filter := bson.M{}
	if !opts.User.IsNil() {
		filter["user_id"] = opts.User.String()
	}
	if opts.Direction != nil {
		filter["direction"] = uint8(*opts.Direction)
	}

	var models []receiptModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "slot", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("custody/mongo: list receipts: %w", err)
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

	// Reservation: the receipt's _id is the replay guard.
	if set.Receipt != nil {
		m, err := toReceiptModel(set.Receipt)
		if err != nil {
			return 0, err
		}
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return 0, custody.ErrAddressOccupied
			}
			return 0, fmt.Errorf("custody/mongo: insert receipt: %w", err)
		}
	}

	unreserve := func() {
		if set.Receipt == nil {
			return
		}
		//nolint:errcheck // best-effort compensation
		_, _ = s.mdb.Collection(colReceipts).DeleteOne(ctx,
			bson.M{"_id": set.Receipt.Address.String()})
	}

	if err := s.debit(ctx, set.Debit.Address, set.Amount); err != nil {
		unreserve()
		return 0, err
	}

	undoDebit := func() {
		//nolint:errcheck // best-effort compensation
		_, _ = s.mdb.Collection(colBalances).UpdateOne(ctx,
			bson.M{"_id": set.Debit.Address.String()},
			bson.M{"$inc": bson.M{"amount": int64(set.Amount.Uint64())}})
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
		if _, err := s.mdb.NewUpdate(m).
			Filter(bson.M{"_id": m.Authority}).
			Exec(ctx); err != nil {
			return 0, fmt.Errorf("custody/mongo: update actor: %w", err)
		}
	}

	if set.AdvancePayCount {
		res, err := s.mdb.Collection(colTreasury).UpdateOne(ctx,
			bson.M{"pay_count": int64(set.Receipt.SeedCounter)},
			bson.M{
				"$inc": bson.M{"pay_count": 1},
				"$set": bson.M{"updated_at": now()},
			},
		)
		if err != nil {
			return 0, fmt.Errorf("custody/mongo: advance pay count: %w", err)
		}
		if res.MatchedCount == 0 {
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
		_, err = s.mdb.NewUpdate((*receiptModel)(nil)).
			Filter(bson.M{"_id": set.Receipt.Address.String()}).
			Set("slot", slot).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("custody/mongo: stamp receipt slot: %w", err)
		}
	}

	return slot, nil
}

func (s *Store) CurrentSlot(ctx context.Context) (uint64, error) {
	var m slotModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": 1}).
		Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("custody/mongo: current slot: %w", err)
	}
	return m.Slot, nil
}

// nextSlot advances and returns the monotonic commit counter. Callers
// hold s.mu.
func (s *Store) nextSlot(ctx context.Context) (uint64, error) {
	_, err := s.mdb.Collection(colSlots).UpdateOne(ctx,
		bson.M{"_id": 1},
		bson.M{"$inc": bson.M{"slot": 1}},
	)
	if err != nil {
		return 0, fmt.Errorf("custody/mongo: advance slot: %w", err)
	}
	return s.CurrentSlot(ctx)
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all custody collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colBalances: {
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "asset", Value: 1}}},
		},
		colActors: {
			{
				Keys:    bson.D{{Key: "address", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colReceipts: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "slot", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "direction", Value: 1}, {Key: "slot", Value: 1}}},
			{Keys: bson.D{{Key: "slot", Value: 1}}},
		},
	}
}
