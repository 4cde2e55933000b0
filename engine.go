package custody

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/zephyon/custody/actor"
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/event"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/plugin"
	"github.com/zephyon/custody/receipt"
	"github.com/zephyon/custody/store"
	"github.com/zephyon/custody/types"
	"github.com/zephyon/custody/vault"
)

// Engine is the main settlement engine. It orchestrates each operation as
// governance check, address derivation, binding validation, asset movement,
// counter update, receipt write, and event emission, in that order, as one
// atomic unit committed by the store.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	emitter event.Emitter
	clock   func() time.Time

	// When set, InitializeTreasury rejects any other caller.
	bootstrapAuthority id.ID
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
		clock:   func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.emitter == nil {
		e.emitter = event.NewLogEmitter(e.logger)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithEmitter sets the event emitter.
func WithEmitter(em event.Emitter) Option {
	return func(e *Engine) {
		e.emitter = em
	}
}

// WithClock overrides the settlement timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithBootstrapAuthority pins the principal allowed to initialize the
// treasury.
func WithBootstrapAuthority(authority id.ID) Option {
	return func(e *Engine) {
		e.bootstrapAuthority = authority
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("custody engine started")

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())

	return e.store.Close()
}

// Plugins exposes the plugin registry.
func (e *Engine) Plugins() *plugin.Registry {
	return e.plugins
}

// Result reports a committed settlement: the store-assigned commit slot
// and the receipt, when one was requested.
type Result struct {
	Slot    uint64
	Receipt *receipt.Receipt
}

// ──────────────────────────────────────────────────
// Governance
// ──────────────────────────────────────────────────

// InitializeTreasury creates the treasury singleton with caller as its
// governance authority. It fails with ErrAlreadyInitialized on any call
// after the first, and with ErrUnauthorized when a bootstrap authority is
// pinned and caller differs.
func (e *Engine) InitializeTreasury(ctx context.Context, caller id.ID) (*vault.Treasury, error) {
	if caller.IsNil() {
		return nil, ErrInvalidInput
	}
	if !e.bootstrapAuthority.IsNil() && caller.String() != e.bootstrapAuthority.String() {
		return nil, ErrUnauthorized
	}

	t := vault.New(caller)

	slot, err := e.store.CreateTreasury(ctx, t)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	e.emitter.Emit(ctx, event.Record{
		Name: event.NameTreasuryInit,
		Payload: event.TreasuryInitialized{
			Treasury:      t.Address.String(),
			Authority:     caller.String(),
			Slot:          slot,
			UnixTimestamp: now.Unix(),
		},
	})
	e.plugins.EmitTreasuryInitialized(ctx, t)

	e.logger.Info("treasury initialized",
		"address", t.Address.String(),
		"authority", caller.String(),
		"slot", slot,
	)

	return t, nil
}

// SetTreasuryPaused toggles the governance pause flag. Only the exact
// treasury authority may call it; a role or delegate never suffices.
func (e *Engine) SetTreasuryPaused(ctx context.Context, caller id.ID, paused bool) error {
	t, err := e.store.GetTreasury(ctx)
	if err != nil {
		return err
	}
	if caller.String() != t.Authority.String() {
		return ErrUnauthorized
	}

	slot, err := e.store.SetTreasuryPaused(ctx, paused)
	if err != nil {
		return err
	}

	now := e.clock()
	e.emitter.Emit(ctx, event.Record{
		Name: event.NamePauseChanged,
		Payload: event.PauseChanged{
			Treasury:      t.Address.String(),
			Authority:     caller.String(),
			Paused:        paused,
			Slot:          slot,
			UnixTimestamp: now.Unix(),
		},
	})
	e.plugins.EmitPauseChanged(ctx, paused, slot)

	e.logger.Info("treasury pause changed",
		"paused", paused,
		"slot", slot,
	)

	return nil
}

// ──────────────────────────────────────────────────
// Actors
// ──────────────────────────────────────────────────

// RegisterActor lazily creates the profile for an actor principal. It is
// idempotent: re-registering returns the stored profile untouched.
func (e *Engine) RegisterActor(ctx context.Context, actorID id.ID) (*actor.Profile, error) {
	if actorID.IsNil() {
		return nil, ErrInvalidInput
	}

	p, created, err := e.store.EnsureActor(ctx, actor.New(actorID, e.clock()))
	if err != nil {
		return nil, err
	}

	if created {
		slot, _ := e.store.CurrentSlot(ctx) //nolint:errcheck // slot is advisory on registration

		e.emitter.Emit(ctx, event.Record{
			Name: event.NameActorJoined,
			Payload: event.ActorRegistered{
				User:          actorID.String(),
				Profile:       p.Address.String(),
				Slot:          slot,
				UnixTimestamp: e.clock().Unix(),
			},
		})
		e.plugins.EmitActorRegistered(ctx, p)
	}

	return p, nil
}

// ──────────────────────────────────────────────────
// Settlement flows
// ──────────────────────────────────────────────────

// DepositParams describes one actor-to-treasury settlement.
type DepositParams struct {
	Actor  id.ID
	Asset  id.ID // Nil for the native asset
	Amount types.Amount

	// Container optionally binds the actor's own balance container. When
	// set, it must equal the canonical derivation for (Actor, Asset); a
	// substituted container is always rejected.
	Container addr.Address

	// WithReceipt requests an immutable receipt for this settlement.
	WithReceipt bool

	// Nonce optionally overrides the receipt seed counter. When nil the
	// actor's current transaction counter is used. Reusing a consumed
	// nonce fails with ErrAddressOccupied.
	Nonce *uint64

	Ext *receipt.Extension
}

// Deposit moves amount from the actor's container into treasury custody.
// The actor profile is created lazily on first use.
func (e *Engine) Deposit(ctx context.Context, params DepositParams) (*Result, error) {
	if params.Actor.IsNil() {
		return nil, ErrInvalidInput
	}

	t, err := e.store.GetTreasury(ctx)
	if err != nil {
		return nil, err
	}

	// Pause strictly precedes every other validation so a rejected call
	// leaves zero observable trace, including the lazy profile.
	if !t.Operational() {
		return nil, ErrPaused
	}
	if params.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	debitAddr, debitBump := vault.ActorBalanceAddress(params.Actor, params.Asset)
	if !params.Container.IsZero() && params.Container != debitAddr {
		return nil, ErrInvalidAccountBinding
	}
	creditAddr, creditBump := t.BalanceAddress(params.Asset)

	p, _, err := e.store.EnsureActor(ctx, actor.New(params.Actor, e.clock()))
	if err != nil {
		return nil, err
	}

	now := e.clock()
	set := &store.Settlement{
		Direction:       receipt.UserToTreasury,
		Asset:           params.Asset,
		Amount:          params.Amount,
		Debit:           store.Container{Address: debitAddr, Owner: params.Actor.String(), Asset: params.Asset, Bump: debitBump},
		Credit:          store.Container{Address: creditAddr, Owner: t.Address.String(), Asset: params.Asset, Bump: creditBump},
		ProvisionCredit: true,
		Actor:           params.Actor,
		Now:             now,
	}

	if params.WithReceipt {
		seed := p.NextSeed()
		if params.Nonce != nil {
			seed = *params.Nonce
		}
		set.Receipt = e.buildReceipt(t, receipt.UserToTreasury, params.Actor, params.Asset, params.Amount, seed, params.Ext, now)
		set.Receipt.PreBalance, set.Receipt.PostBalance = e.balanceSnapshot(ctx, debitAddr, params.Amount, false)
	}

	slot, err := e.store.ApplySettlement(ctx, set)
	if err != nil {
		return nil, err
	}
	if set.Receipt != nil {
		set.Receipt.Slot = slot
	}

	e.emitDeposit(ctx, t, params, set.Receipt, p.NextSeed(), slot, now)

	return &Result{Slot: slot, Receipt: set.Receipt}, nil
}

// WithdrawParams describes one treasury-to-actor settlement. Withdrawals
// are gated on the treasury authority; the receiving actor does not
// co-sign.
type WithdrawParams struct {
	Caller id.ID // must equal treasury.Authority
	Actor  id.ID // receiving actor
	Asset  id.ID
	Amount types.Amount

	// Container optionally binds the actor's receiving container; it must
	// match the canonical derivation for (Actor, Asset) when set.
	Container addr.Address

	WithReceipt bool
	Ext         *receipt.Extension
}

// Withdraw moves amount from treasury custody back to an actor. The
// receiving container is auto-provisioned, but only after every check has
// passed.
func (e *Engine) Withdraw(ctx context.Context, params WithdrawParams) (*Result, error) {
	if params.Caller.IsNil() || params.Actor.IsNil() {
		return nil, ErrInvalidInput
	}

	t, err := e.store.GetTreasury(ctx)
	if err != nil {
		return nil, err
	}

	if !t.Operational() {
		return nil, ErrPaused
	}
	if params.Caller.String() != t.Authority.String() {
		return nil, ErrUnauthorized
	}
	if params.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	creditAddr, creditBump := vault.ActorBalanceAddress(params.Actor, params.Asset)
	if !params.Container.IsZero() && params.Container != creditAddr {
		return nil, ErrInvalidAccountBinding
	}
	debitAddr, debitBump := t.BalanceAddress(params.Asset)

	p, err := e.store.GetActor(ctx, params.Actor)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	set := &store.Settlement{
		Direction:       receipt.TreasuryToUser,
		Asset:           params.Asset,
		Amount:          params.Amount,
		Debit:           store.Container{Address: debitAddr, Owner: t.Address.String(), Asset: params.Asset, Bump: debitBump},
		Credit:          store.Container{Address: creditAddr, Owner: params.Actor.String(), Asset: params.Asset, Bump: creditBump},
		ProvisionCredit: true,
		Actor:           params.Actor,
		Now:             now,
	}

	if params.WithReceipt {
		set.Receipt = e.buildReceipt(t, receipt.TreasuryToUser, params.Actor, params.Asset, params.Amount, p.NextSeed(), params.Ext, now)
		set.Receipt.PreBalance, set.Receipt.PostBalance = e.balanceSnapshot(ctx, debitAddr, params.Amount, false)
	}

	slot, err := e.store.ApplySettlement(ctx, set)
	if err != nil {
		return nil, err
	}
	if set.Receipt != nil {
		set.Receipt.Slot = slot
	}

	e.emitWithdraw(ctx, t, params, set.Receipt, p.NextSeed(), slot, now)

	return &Result{Slot: slot, Receipt: set.Receipt}, nil
}

// PayParams describes one treasury-to-recipient settlement. The recipient
// need not be a registered actor and never co-signs; self-pay (recipient
// equals the authority) is permitted.
type PayParams struct {
	Caller    id.ID // must equal treasury.Authority
	Recipient id.ID
	Asset     id.ID
	Amount    types.Amount

	// Reference optionally carries an external correlation hash.
	Reference *[receipt.ReferenceLen]byte
	// Memo optionally carries up to 64 bytes of free-form context.
	Memo []byte
}

// Pay moves amount from treasury custody to an arbitrary recipient and
// always writes a receipt, seeded at the treasury's pre-increment payment
// counter. A racer built against a stale counter fails with
// ErrAddressOccupied and commits nothing.
func (e *Engine) Pay(ctx context.Context, params PayParams) (*Result, error) {
	if params.Caller.IsNil() || params.Recipient.IsNil() {
		return nil, ErrInvalidInput
	}

	t, err := e.store.GetTreasury(ctx)
	if err != nil {
		return nil, err
	}

	if !t.Operational() {
		return nil, ErrPaused
	}
	if params.Caller.String() != t.Authority.String() {
		return nil, ErrUnauthorized
	}
	if params.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	ext, ok := receipt.NewExtension(params.Reference, params.Memo)
	if !ok {
		return nil, ErrMemoTooLong
	}

	debitAddr, debitBump := t.BalanceAddress(params.Asset)
	creditAddr, creditBump := vault.ActorBalanceAddress(params.Recipient, params.Asset)

	now := e.clock()
	seed := t.PayCount

	rcptAddr, rcptBump := addr.Receipt(t.Address.Bytes(), seed)
	rcpt := &receipt.Receipt{
		Entity:      types.NewEntity(),
		Address:     rcptAddr,
		Bump:        rcptBump,
		Direction:   receipt.TreasuryToRecipient,
		AssetKind:   receipt.KindOf(params.Asset),
		Amount:      params.Amount,
		User:        params.Recipient,
		Treasury:    t.Address,
		Asset:       params.Asset,
		SeedCounter: seed,
		Timestamp:   now,
		Ext:         ext,
	}
	rcpt.PreBalance, rcpt.PostBalance = e.balanceSnapshot(ctx, debitAddr, params.Amount, false)

	set := &store.Settlement{
		Direction:       receipt.TreasuryToRecipient,
		Asset:           params.Asset,
		Amount:          params.Amount,
		Debit:           store.Container{Address: debitAddr, Owner: t.Address.String(), Asset: params.Asset, Bump: debitBump},
		Credit:          store.Container{Address: creditAddr, Owner: params.Recipient.String(), Asset: params.Asset, Bump: creditBump},
		ProvisionCredit: true,
		AdvancePayCount: true,
		Receipt:         rcpt,
		Now:             now,
	}

	slot, err := e.store.ApplySettlement(ctx, set)
	if err != nil {
		return nil, err
	}
	rcpt.Slot = slot

	e.emitPay(ctx, t, params, rcpt, slot, now)

	return &Result{Slot: slot, Receipt: rcpt}, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Treasury returns the treasury singleton.
func (e *Engine) Treasury(ctx context.Context) (*vault.Treasury, error) {
	return e.store.GetTreasury(ctx)
}

// Actor returns an actor profile.
func (e *Engine) Actor(ctx context.Context, actorID id.ID) (*actor.Profile, error) {
	return e.store.GetActor(ctx, actorID)
}

// ActorBalance returns the amount held in an actor's container, or zero
// when the container does not exist yet.
func (e *Engine) ActorBalance(ctx context.Context, actorID id.ID, asset id.ID) (types.Amount, error) {
	address, _ := vault.ActorBalanceAddress(actorID, asset)

	b, err := e.store.GetBalance(ctx, address)
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return b.Amount, nil
}

// TreasuryBalance returns the amount held in treasury custody for an
// asset, or zero when the container does not exist yet.
func (e *Engine) TreasuryBalance(ctx context.Context, asset id.ID) (types.Amount, error) {
	t, err := e.store.GetTreasury(ctx)
	if err != nil {
		return 0, err
	}

	address, _ := t.BalanceAddress(asset)

	b, err := e.store.GetBalance(ctx, address)
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return b.Amount, nil
}

// Receipt returns the receipt at an address.
func (e *Engine) Receipt(ctx context.Context, address addr.Address) (*receipt.Receipt, error) {
	return e.store.GetReceipt(ctx, address)
}

// Receipts lists receipts in commit order, filtered by opts.
func (e *Engine) Receipts(ctx context.Context, opts receipt.ListOpts) ([]*receipt.Receipt, error) {
	return e.store.ListReceipts(ctx, opts)
}

// ──────────────────────────────────────────────────
// Funding
// ──────────────────────────────────────────────────

// FundActorBalance credits an actor's container from outside the ledger.
// It stands in for the external transport that delivers value into the
// system and is not a settlement: no receipt, no counters, no pause gate.
func (e *Engine) FundActorBalance(ctx context.Context, actorID id.ID, asset id.ID, amount types.Amount) error {
	if actorID.IsNil() || amount.IsZero() {
		return ErrInvalidInput
	}

	address, bump := vault.ActorBalanceAddress(actorID, asset)
	b := &vault.Balance{
		Entity:  types.NewEntity(),
		Address: address,
		Owner:   actorID.String(),
		Asset:   asset,
		Bump:    bump,
	}

	_, err := e.store.CreditBalance(ctx, b, amount)

	return err
}

// FundTreasury credits the treasury's custodial container from outside
// the ledger.
func (e *Engine) FundTreasury(ctx context.Context, asset id.ID, amount types.Amount) error {
	if amount.IsZero() {
		return ErrInvalidInput
	}

	t, err := e.store.GetTreasury(ctx)
	if err != nil {
		return err
	}

	address, bump := t.BalanceAddress(asset)
	b := &vault.Balance{
		Entity:  types.NewEntity(),
		Address: address,
		Owner:   t.Address.String(),
		Asset:   asset,
		Bump:    bump,
	}

	_, err = e.store.CreditBalance(ctx, b, amount)

	return err
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// buildReceipt assembles the immutable receipt for an actor-seeded
// settlement at the address derived from the actor's pre-increment
// counter.
func (e *Engine) buildReceipt(t *vault.Treasury, dir receipt.Direction, actorID id.ID, asset id.ID, amount types.Amount, seed uint64, ext *receipt.Extension, now time.Time) *receipt.Receipt {
	address, bump := addr.Receipt(actorID.Bytes(), seed)

	return &receipt.Receipt{
		Entity:      types.NewEntity(),
		Address:     address,
		Bump:        bump,
		Direction:   dir,
		AssetKind:   receipt.KindOf(asset),
		Amount:      amount,
		User:        actorID,
		Treasury:    t.Address,
		Asset:       asset,
		SeedCounter: seed,
		Timestamp:   now,
		Ext:         ext,
	}
}

// balanceSnapshot reads the debit container's balance before settlement
// for the receipt's pre/post pair. The snapshot is advisory telemetry;
// the authoritative amounts are re-verified inside the store.
func (e *Engine) balanceSnapshot(ctx context.Context, address addr.Address, amount types.Amount, credit bool) (types.Amount, types.Amount) {
	b, err := e.store.GetBalance(ctx, address)
	if err != nil {
		return 0, 0
	}

	if credit {
		post, _ := b.Amount.CheckedAdd(amount)
		return b.Amount, post
	}

	post, ok := b.Amount.CheckedSub(amount)
	if !ok {
		return b.Amount, b.Amount
	}

	return b.Amount, post
}

func (e *Engine) emitDeposit(ctx context.Context, t *vault.Treasury, params DepositParams, rcpt *receipt.Receipt, txCount uint64, slot uint64, now time.Time) {
	payload := event.Deposit{
		Direction:     receipt.UserToTreasury.String(),
		AssetKind:     receipt.KindOf(params.Asset).String(),
		Amount:        params.Amount.Uint64(),
		User:          params.Actor.String(),
		Treasury:      t.Address.String(),
		NonceOrTx:     txCount,
		Slot:          slot,
		UnixTimestamp: now.Unix(),
	}
	if !params.Asset.IsNil() {
		payload.Asset = params.Asset.String()
	}
	if rcpt != nil {
		payload.Receipt = rcpt.Address.String()
		payload.NonceOrTx = rcpt.SeedCounter
	}

	e.emitter.Emit(ctx, event.Record{Name: event.NameDeposit, Payload: payload})
	e.plugins.EmitDeposit(ctx, pluginReceipt(rcpt))

	e.logger.Info("deposit settled",
		"actor", params.Actor.String(),
		"amount", params.Amount.Uint64(),
		"slot", slot,
	)
}

func (e *Engine) emitWithdraw(ctx context.Context, t *vault.Treasury, params WithdrawParams, rcpt *receipt.Receipt, txCount uint64, slot uint64, now time.Time) {
	payload := event.Withdraw{
		Direction:     receipt.TreasuryToUser.String(),
		AssetKind:     receipt.KindOf(params.Asset).String(),
		Amount:        params.Amount.Uint64(),
		Authority:     params.Caller.String(),
		User:          params.Actor.String(),
		Treasury:      t.Address.String(),
		NonceOrTx:     txCount,
		Slot:          slot,
		UnixTimestamp: now.Unix(),
	}
	if !params.Asset.IsNil() {
		payload.Asset = params.Asset.String()
	}
	if rcpt != nil {
		payload.Receipt = rcpt.Address.String()
		payload.NonceOrTx = rcpt.SeedCounter
	}

	e.emitter.Emit(ctx, event.Record{Name: event.NameWithdraw, Payload: payload})
	e.plugins.EmitWithdraw(ctx, pluginReceipt(rcpt))

	e.logger.Info("withdrawal settled",
		"actor", params.Actor.String(),
		"amount", params.Amount.Uint64(),
		"slot", slot,
	)
}

func (e *Engine) emitPay(ctx context.Context, t *vault.Treasury, params PayParams, rcpt *receipt.Receipt, slot uint64, now time.Time) {
	payload := event.Pay{
		Direction:     receipt.TreasuryToRecipient.String(),
		AssetKind:     receipt.KindOf(params.Asset).String(),
		Amount:        params.Amount.Uint64(),
		Recipient:     params.Recipient.String(),
		Authority:     params.Caller.String(),
		Treasury:      t.Address.String(),
		Receipt:       rcpt.Address.String(),
		PayCount:      rcpt.SeedCounter,
		Slot:          slot,
		UnixTimestamp: now.Unix(),
	}
	if !params.Asset.IsNil() {
		payload.Asset = params.Asset.String()
	}
	if rcpt.Ext != nil {
		payload.HasReference = rcpt.Ext.HasReference()
		if payload.HasReference {
			payload.Reference = hex.EncodeToString(rcpt.Ext.Reference[:])
		}
		payload.HasMemo = rcpt.Ext.HasMemo()
		payload.MemoLen = rcpt.Ext.MemoLen
	}

	e.emitter.Emit(ctx, event.Record{Name: event.NamePay, Payload: payload})
	e.plugins.EmitPay(ctx, rcpt)

	e.logger.Info("payment settled",
		"recipient", params.Recipient.String(),
		"amount", params.Amount.Uint64(),
		"receipt", rcpt.Address.String(),
		"slot", slot,
	)
}

// pluginReceipt avoids handing plugin hooks a typed-nil interface when a
// settlement was requested without a receipt.
func pluginReceipt(rcpt *receipt.Receipt) interface{} {
	if rcpt == nil {
		return nil
	}

	return rcpt
}
