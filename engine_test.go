package custody_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	custody "github.com/zephyon/custody"
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/event"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/receipt"
	"github.com/zephyon/custody/store/memory"
)

type capture struct {
	mu      sync.Mutex
	records []event.Record
}

func (c *capture) Emit(_ context.Context, rec event.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *capture) named(name string) []event.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []event.Record
	for _, rec := range c.records {
		if event.Matches(rec.Name, name) {
			out = append(out, rec)
		}
	}
	return out
}

func newEngine(t *testing.T) (*custody.Engine, id.ID, *capture) {
	t.Helper()

	events := &capture{}
	eng := custody.New(memory.New(), custody.WithEmitter(events))
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop() })

	authority := id.NewActorID()
	if _, err := eng.InitializeTreasury(context.Background(), authority); err != nil {
		t.Fatalf("InitializeTreasury: %v", err)
	}

	return eng, authority, events
}

func TestInitializeTreasuryOnce(t *testing.T) {
	eng := custody.New(memory.New())
	ctx := context.Background()

	authority := id.NewActorID()
	tr, err := eng.InitializeTreasury(ctx, authority)
	if err != nil {
		t.Fatalf("InitializeTreasury: %v", err)
	}
	if tr.Paused {
		t.Error("fresh treasury starts paused")
	}
	if tr.PayCount != 0 {
		t.Errorf("PayCount = %d, want 0", tr.PayCount)
	}

	if _, err := eng.InitializeTreasury(ctx, authority); !errors.Is(err, custody.ErrAlreadyInitialized) {
		t.Errorf("second init: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestInitializeTreasuryBootstrapGate(t *testing.T) {
	bootstrap := id.NewActorID()
	eng := custody.New(memory.New(), custody.WithBootstrapAuthority(bootstrap))
	ctx := context.Background()

	if _, err := eng.InitializeTreasury(ctx, id.NewActorID()); !errors.Is(err, custody.ErrUnauthorized) {
		t.Fatalf("wrong bootstrap caller: got %v, want ErrUnauthorized", err)
	}
	if _, err := eng.InitializeTreasury(ctx, bootstrap); err != nil {
		t.Fatalf("bootstrap caller: %v", err)
	}
}

func TestSetTreasuryPausedUnauthorized(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()

	if err := eng.SetTreasuryPaused(ctx, id.NewActorID(), true); !errors.Is(err, custody.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}

	tr, err := eng.Treasury(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Paused {
		t.Error("unauthorized toggle changed the pause flag")
	}
}

func TestSetTreasuryPausedEmitsEvent(t *testing.T) {
	eng, authority, events := newEngine(t)
	ctx := context.Background()

	if err := eng.SetTreasuryPaused(ctx, authority, true); err != nil {
		t.Fatal(err)
	}

	// Consumers match names case-insensitively.
	recs := events.named("pausechangedevent")
	if len(recs) != 1 {
		t.Fatalf("got %d PauseChanged events, want 1", len(recs))
	}
	payload, ok := recs[0].Payload.(event.PauseChanged)
	if !ok {
		t.Fatalf("payload type %T", recs[0].Payload)
	}
	if !payload.Paused || payload.Authority != authority.String() {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Slot == 0 {
		t.Error("missing slot")
	}
}

func TestDepositConservation(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()

	alice := id.NewActorID()
	if err := eng.FundActorBalance(ctx, alice, id.ID{}, 1000); err != nil {
		t.Fatal(err)
	}

	res, err := eng.Deposit(ctx, custody.DepositParams{
		Actor:       alice,
		Amount:      400,
		WithReceipt: true,
	})
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if res.Receipt == nil {
		t.Fatal("missing receipt")
	}

	actorBal, _ := eng.ActorBalance(ctx, alice, id.ID{})
	treasBal, _ := eng.TreasuryBalance(ctx, id.ID{})
	if actorBal != 600 || treasBal != 400 {
		t.Errorf("balances = (%d, %d), want (600, 400)", actorBal, treasBal)
	}
	if res.Receipt.Amount != 400 {
		t.Errorf("receipt amount = %d", res.Receipt.Amount)
	}
	if res.Receipt.Direction != receipt.UserToTreasury {
		t.Errorf("direction = %v", res.Receipt.Direction)
	}
}

func TestDepositReceiptSeededPreIncrement(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()

	alice := id.NewActorID()
	if err := eng.FundActorBalance(ctx, alice, id.ID{}, 1000); err != nil {
		t.Fatal(err)
	}

	// Three receipted deposits mint nonces 0, 1, 2.
	for want := uint64(0); want < 3; want++ {
		res, err := eng.Deposit(ctx, custody.DepositParams{Actor: alice, Amount: 10, WithReceipt: true})
		if err != nil {
			t.Fatalf("deposit %d: %v", want, err)
		}
		if res.Receipt.SeedCounter != want {
			t.Errorf("seed = %d, want %d", res.Receipt.SeedCounter, want)
		}
		wantAddr, _ := addr.Receipt(alice.Bytes(), want)
		if res.Receipt.Address != wantAddr {
			t.Errorf("receipt address mismatch at nonce %d", want)
		}
	}

	// The next counter's address must remain vacant.
	nextAddr, _ := addr.Receipt(alice.Bytes(), 3)
	if _, err := eng.Receipt(ctx, nextAddr); !errors.Is(err, custody.ErrReceiptNotFound) {
		t.Errorf("address for unminted nonce occupied: %v", err)
	}
}

func TestDepositNonceReuse(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()

	alice := id.NewActorID()
	if err := eng.FundActorBalance(ctx, alice, id.ID{}, 1000); err != nil {
		t.Fatal(err)
	}

	nonce := uint64(0)
	if _, err := eng.Deposit(ctx, custody.DepositParams{Actor: alice, Amount: 10, WithReceipt: true, Nonce: &nonce}); err != nil {
		t.Fatalf("first deposit: %v", err)
	}

	// Reuse with a different amount still conflicts.
	_, err := eng.Deposit(ctx, custody.DepositParams{Actor: alice, Amount: 25, WithReceipt: true, Nonce: &nonce})
	if !errors.Is(err, custody.ErrAddressOccupied) {
		t.Fatalf("nonce reuse: got %v, want ErrAddressOccupied", err)
	}
	if !custody.IsReplayConflict(err) {
		t.Error("IsReplayConflict should classify nonce reuse")
	}

	// The rejected attempt moved nothing.
	bal, _ := eng.ActorBalance(ctx, alice, id.ID{})
	if bal != 990 {
		t.Errorf("actor balance = %d, want 990", bal)
	}
}

func TestDepositBinding(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()

	alice, mallory := id.NewActorID(), id.NewActorID()
	if err := eng.FundActorBalance(ctx, alice, id.ID{}, 1000); err != nil {
		t.Fatal(err)
	}

	// A container canonical for another actor must be rejected.
	wrong, _ := addr.Balance(mallory.Bytes(), nil)
	_, err := eng.Deposit(ctx, custody.DepositParams{
		Actor:     alice,
		Amount:    10,
		Container: wrong,
	})
	if !errors.Is(err, custody.ErrInvalidAccountBinding) {
		t.Fatalf("got %v, want ErrInvalidAccountBinding", err)
	}

	// The canonical container passes.
	right, _ := addr.Balance(alice.Bytes(), nil)
	if _, err := eng.Deposit(ctx, custody.DepositParams{Actor: alice, Amount: 10, Container: right}); err != nil {
		t.Fatalf("canonical container rejected: %v", err)
	}
}

func TestPausedSettlementsLeaveNoTrace(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	alice := id.NewActorID()
	if err := eng.FundActorBalance(ctx, alice, id.ID{}, 1000); err != nil {
		t.Fatal(err)
	}
	if err := eng.FundTreasury(ctx, id.ID{}, 1000); err != nil {
		t.Fatal(err)
	}
	if err := eng.SetTreasuryPaused(ctx, authority, true); err != nil {
		t.Fatal(err)
	}

	fresh := id.NewActorID()

	if _, err := eng.Deposit(ctx, custody.DepositParams{Actor: alice, Amount: 10, WithReceipt: true}); !errors.Is(err, custody.ErrPaused) {
		t.Errorf("deposit: got %v, want ErrPaused", err)
	}
	if _, err := eng.Withdraw(ctx, custody.WithdrawParams{Caller: authority, Actor: alice, Amount: 10}); !errors.Is(err, custody.ErrPaused) {
		t.Errorf("withdraw: got %v, want ErrPaused", err)
	}
	if _, err := eng.Pay(ctx, custody.PayParams{Caller: authority, Recipient: fresh, Amount: 10}); !errors.Is(err, custody.ErrPaused) {
		t.Errorf("pay: got %v, want ErrPaused", err)
	}

	// Zero observable trace: balances unchanged, the fresh recipient's
	// container never came into existence, and no receipt landed.
	actorBal, _ := eng.ActorBalance(ctx, alice, id.ID{})
	treasBal, _ := eng.TreasuryBalance(ctx, id.ID{})
	if actorBal != 1000 || treasBal != 1000 {
		t.Errorf("balances = (%d, %d), want (1000, 1000)", actorBal, treasBal)
	}
	rcptAddr, _ := addr.Receipt(alice.Bytes(), 0)
	if _, err := eng.Receipt(ctx, rcptAddr); !errors.Is(err, custody.ErrReceiptNotFound) {
		t.Error("receipt created while paused")
	}
}

func TestPausedPrecedesInvalidAmount(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	if err := eng.SetTreasuryPaused(ctx, authority, true); err != nil {
		t.Fatal(err)
	}

	// Both preconditions fail; paused must win.
	_, err := eng.Pay(ctx, custody.PayParams{Caller: authority, Recipient: id.NewActorID(), Amount: 0})
	if !errors.Is(err, custody.ErrPaused) {
		t.Fatalf("got %v, want ErrPaused", err)
	}
}

func TestWithdrawAuthorityGated(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	alice := id.NewActorID()
	if _, err := eng.RegisterActor(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := eng.FundTreasury(ctx, id.ID{}, 1000); err != nil {
		t.Fatal(err)
	}

	// The receiving actor cannot authorize its own withdrawal.
	if _, err := eng.Withdraw(ctx, custody.WithdrawParams{Caller: alice, Actor: alice, Amount: 100}); !errors.Is(err, custody.ErrUnauthorized) {
		t.Fatalf("actor-signed withdraw: got %v, want ErrUnauthorized", err)
	}

	res, err := eng.Withdraw(ctx, custody.WithdrawParams{Caller: authority, Actor: alice, Amount: 100, WithReceipt: true})
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if res.Receipt.Direction != receipt.TreasuryToUser {
		t.Errorf("direction = %v", res.Receipt.Direction)
	}

	// Receipt seeded at the actor's pre-increment counter (0), and the
	// recipient container was auto-provisioned.
	wantAddr, _ := addr.Receipt(alice.Bytes(), 0)
	if res.Receipt.Address != wantAddr {
		t.Error("withdraw receipt not seeded at the actor's pre-increment counter")
	}
	bal, _ := eng.ActorBalance(ctx, alice, id.ID{})
	if bal != 100 {
		t.Errorf("actor balance = %d, want 100", bal)
	}

	p, err := eng.Actor(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if p.TxCount != 1 || p.WithdrawCount != 1 || p.TotalWithdrawn != 100 {
		t.Errorf("profile = %+v", p)
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	alice := id.NewActorID()
	if _, err := eng.RegisterActor(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := eng.FundTreasury(ctx, id.ID{}, 50); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Withdraw(ctx, custody.WithdrawParams{Caller: authority, Actor: alice, Amount: 100}); !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestPayScenario(t *testing.T) {
	eng, authority, events := newEngine(t)
	ctx := context.Background()

	asset := id.NewAssetID()
	if err := eng.FundTreasury(ctx, asset, 1_000_000); err != nil {
		t.Fatal(err)
	}

	recipient := id.NewActorID()
	res, err := eng.Pay(ctx, custody.PayParams{
		Caller:    authority,
		Recipient: recipient,
		Asset:     asset,
		Amount:    1234,
	})
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}

	recvBal, _ := eng.ActorBalance(ctx, recipient, asset)
	treasBal, _ := eng.TreasuryBalance(ctx, asset)
	if recvBal != 1234 || treasBal != 998_766 {
		t.Errorf("balances = (%d, %d), want (1234, 998766)", recvBal, treasBal)
	}

	tr, _ := eng.Treasury(ctx)
	if tr.PayCount != 1 {
		t.Errorf("PayCount = %d, want 1", tr.PayCount)
	}

	wantAddr, _ := addr.Receipt(tr.Address.Bytes(), 0)
	got, err := eng.Receipt(ctx, wantAddr)
	if err != nil {
		t.Fatalf("receipt at pre-increment counter address: %v", err)
	}
	if got.Direction != receipt.TreasuryToRecipient || got.AssetKind != receipt.Fungible || got.Amount != 1234 {
		t.Errorf("receipt = %+v", got)
	}
	if res.Receipt.Address != wantAddr {
		t.Error("result receipt address mismatch")
	}

	recs := events.named(event.NamePay)
	if len(recs) != 1 {
		t.Fatalf("got %d PayEvents, want 1", len(recs))
	}
	payload := recs[0].Payload.(event.Pay)
	if payload.Receipt != wantAddr.String() || payload.PayCount != 0 {
		t.Errorf("pay event payload = %+v", payload)
	}
}

func TestPayRejections(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	if err := eng.FundTreasury(ctx, id.ID{}, 100); err != nil {
		t.Fatal(err)
	}
	recipient := id.NewActorID()

	t.Run("zero amount", func(t *testing.T) {
		_, err := eng.Pay(ctx, custody.PayParams{Caller: authority, Recipient: recipient, Amount: 0})
		if !errors.Is(err, custody.ErrInvalidAmount) {
			t.Fatalf("got %v, want ErrInvalidAmount", err)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		_, err := eng.Pay(ctx, custody.PayParams{Caller: id.NewActorID(), Recipient: recipient, Amount: 10})
		if !errors.Is(err, custody.ErrUnauthorized) {
			t.Fatalf("got %v, want ErrUnauthorized", err)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := eng.Pay(ctx, custody.PayParams{Caller: authority, Recipient: recipient, Amount: 500})
		if !errors.Is(err, custody.ErrInsufficientFunds) {
			t.Fatalf("got %v, want ErrInsufficientFunds", err)
		}
	})

	t.Run("memo too long", func(t *testing.T) {
		memo := bytes.Repeat([]byte("a"), receipt.MemoMax+1)
		_, err := eng.Pay(ctx, custody.PayParams{Caller: authority, Recipient: recipient, Amount: 10, Memo: memo})
		if !errors.Is(err, custody.ErrMemoTooLong) {
			t.Fatalf("got %v, want ErrMemoTooLong", err)
		}

		// No receipt and no counter advance on the failed path.
		tr, _ := eng.Treasury(ctx)
		if tr.PayCount != 0 {
			t.Errorf("PayCount advanced to %d on failure", tr.PayCount)
		}
	})
}

func TestPayExtension(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	if err := eng.FundTreasury(ctx, id.ID{}, 100); err != nil {
		t.Fatal(err)
	}

	var ref [receipt.ReferenceLen]byte
	copy(ref[:], "order-2041")

	res, err := eng.Pay(ctx, custody.PayParams{
		Caller:    authority,
		Recipient: id.NewActorID(),
		Amount:    10,
		Reference: &ref,
		Memo:      []byte("invoice settled"),
	})
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	ext := res.Receipt.Ext
	if ext == nil || !ext.HasReference() || !ext.HasMemo() {
		t.Fatalf("extension = %+v", ext)
	}
	if string(ext.MemoBytes()) != "invoice settled" {
		t.Errorf("memo = %q", ext.MemoBytes())
	}
}

func TestSelfPayPermitted(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	if err := eng.FundTreasury(ctx, id.ID{}, 100); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Pay(ctx, custody.PayParams{Caller: authority, Recipient: authority, Amount: 30}); err != nil {
		t.Fatalf("self-pay: %v", err)
	}
	bal, _ := eng.ActorBalance(ctx, authority, id.ID{})
	if bal != 30 {
		t.Errorf("authority balance = %d, want 30", bal)
	}
}

func TestPayNeverMutatesProfiles(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	recipient := id.NewActorID()
	if _, err := eng.RegisterActor(ctx, recipient); err != nil {
		t.Fatal(err)
	}
	if err := eng.FundTreasury(ctx, id.ID{}, 100); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Pay(ctx, custody.PayParams{Caller: authority, Recipient: recipient, Amount: 10}); err != nil {
		t.Fatal(err)
	}

	p, err := eng.Actor(ctx, recipient)
	if err != nil {
		t.Fatal(err)
	}
	if p.TxCount != 0 || p.TotalDeposited != 0 || p.TotalWithdrawn != 0 {
		t.Errorf("pay mutated recipient profile: %+v", p)
	}
}

func TestRegisterActorIdempotent(t *testing.T) {
	eng, _, events := newEngine(t)
	ctx := context.Background()

	alice := id.NewActorID()
	first, err := eng.RegisterActor(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.RegisterActor(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if first.Address != second.Address {
		t.Error("profile address changed across registrations")
	}

	if recs := events.named(event.NameActorJoined); len(recs) != 1 {
		t.Errorf("got %d ActorRegistered events, want 1", len(recs))
	}
}

func TestConcurrentPaysWithPauseFlips(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	const attempts = 64
	if err := eng.FundTreasury(ctx, id.ID{}, attempts); err != nil {
		t.Fatal(err)
	}

	before, _ := eng.TreasuryBalance(ctx, id.ID{})

	recipients := make([]id.ID, attempts)
	for i := range recipients {
		recipients[i] = id.NewActorID()
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)

	// Interleave pause flips with the settlement burst.
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				_ = eng.SetTreasuryPaused(ctx, authority, false)
				return
			default:
				_ = eng.SetTreasuryPaused(ctx, authority, i%2 == 1)
			}
		}
	}()

	var payers sync.WaitGroup
	for i := 0; i < attempts; i++ {
		payers.Add(1)
		go func(i int) {
			defer payers.Done()
			_, err := eng.Pay(ctx, custody.PayParams{Caller: authority, Recipient: recipients[i], Amount: 1})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, custody.ErrPaused), errors.Is(err, custody.ErrAddressOccupied):
				rejected++
			default:
				t.Errorf("unexpected pay error: %v", err)
			}
		}(i)
	}
	payers.Wait()
	close(done)
	wg.Wait()

	after, _ := eng.TreasuryBalance(ctx, id.ID{})

	var credited uint64
	for _, r := range recipients {
		bal, err := eng.ActorBalance(ctx, r, id.ID{})
		if err != nil {
			t.Fatal(err)
		}
		credited += bal.Uint64()
	}

	// Conservation: every successful unit left the treasury and landed in
	// exactly one recipient container.
	if uint64(succeeded) != before.Uint64()-after.Uint64() {
		t.Errorf("succeeded = %d, treasury delta = %d", succeeded, before.Uint64()-after.Uint64())
	}
	if credited != uint64(succeeded) {
		t.Errorf("credited = %d, succeeded = %d", credited, succeeded)
	}
	if succeeded+rejected != attempts {
		t.Errorf("accounted %d of %d attempts", succeeded+rejected, attempts)
	}

	tr, _ := eng.Treasury(ctx)
	if tr.PayCount != uint64(succeeded) {
		t.Errorf("PayCount = %d, want %d", tr.PayCount, succeeded)
	}
}

func TestReceiptsQuery(t *testing.T) {
	eng, authority, _ := newEngine(t)
	ctx := context.Background()

	alice := id.NewActorID()
	if err := eng.FundActorBalance(ctx, alice, id.ID{}, 100); err != nil {
		t.Fatal(err)
	}
	if err := eng.FundTreasury(ctx, id.ID{}, 100); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Deposit(ctx, custody.DepositParams{Actor: alice, Amount: 40, WithReceipt: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Withdraw(ctx, custody.WithdrawParams{Caller: authority, Actor: alice, Amount: 15, WithReceipt: true}); err != nil {
		t.Fatal(err)
	}

	all, err := eng.Receipts(ctx, receipt.ListOpts{User: alice})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d receipts, want 2", len(all))
	}

	dir := receipt.TreasuryToUser
	withdrawals, err := eng.Receipts(ctx, receipt.ListOpts{User: alice, Direction: &dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(withdrawals) != 1 || withdrawals[0].Amount != 15 {
		t.Errorf("withdrawals = %+v", withdrawals)
	}
}
