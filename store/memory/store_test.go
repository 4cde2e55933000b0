package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	custody "github.com/zephyon/custody"
	"github.com/zephyon/custody/actor"
	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/receipt"
	"github.com/zephyon/custody/store"
	"github.com/zephyon/custody/types"
	"github.com/zephyon/custody/vault"
)

func newFixture(t *testing.T) (*Store, *vault.Treasury, *actor.Profile) {
	t.Helper()

	s := New()
	ctx := context.Background()

	treasury := vault.New(id.NewActorID())
	if _, err := s.CreateTreasury(ctx, treasury); err != nil {
		t.Fatalf("CreateTreasury: %v", err)
	}

	profile := actor.New(id.NewActorID(), time.Now().UTC())
	if _, created, err := s.EnsureActor(ctx, profile); err != nil || !created {
		t.Fatalf("EnsureActor: created=%v err=%v", created, err)
	}

	return s, treasury, profile
}

func fundedContainer(t *testing.T, s *Store, owner string, ownerSeed []byte, amount types.Amount) *vault.Balance {
	t.Helper()

	address, bump := addr.Balance(ownerSeed, nil)
	b := &vault.Balance{
		Entity:  types.NewEntity(),
		Address: address,
		Owner:   owner,
		Bump:    bump,
	}
	if amount > 0 {
		if _, err := s.CreditBalance(context.Background(), b, amount); err != nil {
			t.Fatalf("CreditBalance: %v", err)
		}
	}

	return b
}

func depositSettlement(treasury *vault.Treasury, profile *actor.Profile, debit, credit *vault.Balance, amount types.Amount) *store.Settlement {
	now := time.Now().UTC()
	rcptAddr, rcptBump := addr.Receipt(profile.Authority.Bytes(), profile.NextSeed())

	return &store.Settlement{
		Direction: receipt.UserToTreasury,
		Amount:    amount,
		Debit:     store.Container{Address: debit.Address, Owner: debit.Owner, Bump: debit.Bump},
		Credit:    store.Container{Address: credit.Address, Owner: credit.Owner, Bump: credit.Bump},
		Actor:     profile.Authority,
		Receipt: &receipt.Receipt{
			Entity:      types.NewEntity(),
			Address:     rcptAddr,
			Bump:        rcptBump,
			Direction:   receipt.UserToTreasury,
			AssetKind:   receipt.Native,
			Amount:      amount,
			User:        profile.Authority,
			Treasury:    treasury.Address,
			SeedCounter: profile.NextSeed(),
			Timestamp:   now,
		},
		Now: now,
	}
}

func TestCreateTreasuryOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	treasury := vault.New(id.NewActorID())
	slot, err := s.CreateTreasury(ctx, treasury)
	if err != nil {
		t.Fatalf("CreateTreasury: %v", err)
	}
	if slot == 0 {
		t.Error("expected nonzero commit slot")
	}

	if _, err := s.CreateTreasury(ctx, treasury); !errors.Is(err, custody.ErrAlreadyInitialized) {
		t.Errorf("second create: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestGetTreasuryBeforeInit(t *testing.T) {
	s := New()

	if _, err := s.GetTreasury(context.Background()); !errors.Is(err, custody.ErrNotInitialized) {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
	if _, err := s.SetTreasuryPaused(context.Background(), true); !errors.Is(err, custody.ErrNotInitialized) {
		t.Errorf("pause: got %v, want ErrNotInitialized", err)
	}
}

func TestEnsureActorIdempotent(t *testing.T) {
	s, _, profile := newFixture(t)
	ctx := context.Background()

	// Re-ensuring must return the stored profile, not reset counters.
	stored, err := s.GetActor(ctx, profile.Authority)
	if err != nil {
		t.Fatalf("GetActor: %v", err)
	}
	stored.TxCount = 7
	if _, created, err := s.EnsureActor(ctx, actor.New(profile.Authority, time.Now().UTC())); err != nil {
		t.Fatalf("EnsureActor again: %v", err)
	} else if created {
		t.Error("second ensure reported created")
	}

	again, err := s.GetActor(ctx, profile.Authority)
	if err != nil {
		t.Fatalf("GetActor again: %v", err)
	}
	if again.TxCount != 0 {
		t.Errorf("TxCount = %d, want 0 (fixture store copy must be isolated)", again.TxCount)
	}
}

func TestGetActorReturnsClone(t *testing.T) {
	s, _, profile := newFixture(t)
	ctx := context.Background()

	a, _ := s.GetActor(ctx, profile.Authority)
	a.TxCount = 99

	b, _ := s.GetActor(ctx, profile.Authority)
	if b.TxCount != 0 {
		t.Errorf("mutation through clone leaked into store: TxCount = %d", b.TxCount)
	}
}

func TestApplySettlementDeposit(t *testing.T) {
	s, treasury, profile := newFixture(t)
	ctx := context.Background()

	userBal := fundedContainer(t, s, profile.Authority.String(), profile.Authority.Bytes(), 1000)
	treasAddr, treasBump := treasury.BalanceAddress(id.ID{})
	treasBal := &vault.Balance{Address: treasAddr, Owner: treasury.Address.String(), Bump: treasBump}

	set := depositSettlement(treasury, profile, userBal, treasBal, 400)
	set.ProvisionCredit = true

	slot, err := s.ApplySettlement(ctx, set)
	if err != nil {
		t.Fatalf("ApplySettlement: %v", err)
	}

	debit, _ := s.GetBalance(ctx, userBal.Address)
	if debit.Amount != 600 {
		t.Errorf("debit amount = %d, want 600", debit.Amount)
	}
	credit, err := s.GetBalance(ctx, treasAddr)
	if err != nil {
		t.Fatalf("credit container not provisioned: %v", err)
	}
	if credit.Amount != 400 {
		t.Errorf("credit amount = %d, want 400", credit.Amount)
	}

	got, err := s.GetReceipt(ctx, set.Receipt.Address)
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if got.Slot != slot {
		t.Errorf("receipt slot = %d, want %d", got.Slot, slot)
	}

	advanced, _ := s.GetActor(ctx, profile.Authority)
	if advanced.TxCount != 1 || advanced.DepositCount != 1 || advanced.TotalDeposited != 400 {
		t.Errorf("profile not advanced: %+v", advanced)
	}
}

func TestApplySettlementRejections(t *testing.T) {
	type tc struct {
		name    string
		prepare func(t *testing.T, s *Store, set *store.Settlement)
		wantErr error
	}

	cases := []tc{
		{
			name: "paused",
			prepare: func(t *testing.T, s *Store, set *store.Settlement) {
				if _, err := s.SetTreasuryPaused(context.Background(), true); err != nil {
					t.Fatal(err)
				}
			},
			wantErr: custody.ErrPaused,
		},
		{
			name: "zero amount",
			prepare: func(_ *testing.T, _ *Store, set *store.Settlement) {
				set.Amount = 0
			},
			wantErr: custody.ErrInvalidAmount,
		},
		{
			name: "insufficient funds",
			prepare: func(_ *testing.T, _ *Store, set *store.Settlement) {
				set.Amount = 5000
			},
			wantErr: custody.ErrInsufficientFunds,
		},
		{
			name: "paused wins over zero amount",
			prepare: func(t *testing.T, s *Store, set *store.Settlement) {
				if _, err := s.SetTreasuryPaused(context.Background(), true); err != nil {
					t.Fatal(err)
				}
				set.Amount = 0
			},
			wantErr: custody.ErrPaused,
		},
		{
			name: "unknown actor",
			prepare: func(_ *testing.T, _ *Store, set *store.Settlement) {
				set.Actor = id.NewActorID()
			},
			wantErr: custody.ErrActorNotFound,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, treasury, profile := newFixture(t)
			ctx := context.Background()

			userBal := fundedContainer(t, s, profile.Authority.String(), profile.Authority.Bytes(), 1000)
			treasAddr, treasBump := treasury.BalanceAddress(id.ID{})
			treasBal := &vault.Balance{Address: treasAddr, Owner: treasury.Address.String(), Bump: treasBump}

			set := depositSettlement(treasury, profile, userBal, treasBal, 400)
			set.ProvisionCredit = true
			c.prepare(t, s, set)

			if _, err := s.ApplySettlement(ctx, set); !errors.Is(err, c.wantErr) {
				t.Fatalf("got %v, want %v", err, c.wantErr)
			}

			// Zero observable trace: debit untouched, credit never
			// provisioned, no receipt, profile counters unmoved.
			debit, _ := s.GetBalance(ctx, userBal.Address)
			if debit.Amount != 1000 {
				t.Errorf("debit mutated on rejection: %d", debit.Amount)
			}
			if _, err := s.GetBalance(ctx, treasAddr); !errors.Is(err, custody.ErrBalanceNotFound) {
				t.Error("credit container provisioned on a failed path")
			}
			if _, err := s.GetReceipt(ctx, set.Receipt.Address); !errors.Is(err, custody.ErrReceiptNotFound) {
				t.Error("receipt written on a failed path")
			}
			p, _ := s.GetActor(ctx, profile.Authority)
			if p != nil && p.TxCount != 0 {
				t.Errorf("profile advanced on rejection: TxCount = %d", p.TxCount)
			}
		})
	}
}

func TestApplySettlementReplay(t *testing.T) {
	s, treasury, profile := newFixture(t)
	ctx := context.Background()

	userBal := fundedContainer(t, s, profile.Authority.String(), profile.Authority.Bytes(), 1000)
	treasAddr, treasBump := treasury.BalanceAddress(id.ID{})
	treasBal := &vault.Balance{Address: treasAddr, Owner: treasury.Address.String(), Bump: treasBump}

	set := depositSettlement(treasury, profile, userBal, treasBal, 100)
	set.ProvisionCredit = true

	if _, err := s.ApplySettlement(ctx, set); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	// Same receipt address again: exactly one settlement may ever land.
	replay := depositSettlement(treasury, profile, userBal, treasBal, 100)
	replay.Receipt.Address = set.Receipt.Address
	replay.ProvisionCredit = true

	if _, err := s.ApplySettlement(ctx, replay); !errors.Is(err, custody.ErrAddressOccupied) {
		t.Fatalf("replay: got %v, want ErrAddressOccupied", err)
	}

	credit, _ := s.GetBalance(ctx, treasAddr)
	if credit.Amount != 100 {
		t.Errorf("credit amount = %d after replay, want 100", credit.Amount)
	}
}

func TestApplySettlementPayCountRace(t *testing.T) {
	s, treasury, _ := newFixture(t)
	ctx := context.Background()

	treasAddr, treasBump := treasury.BalanceAddress(id.ID{})
	treasBal := &vault.Balance{Address: treasAddr, Owner: treasury.Address.String(), Bump: treasBump}
	if _, err := s.CreditBalance(ctx, treasBal, 1000); err != nil {
		t.Fatal(err)
	}

	recipient := id.NewActorID()
	recvAddr, recvBump := vault.ActorBalanceAddress(recipient, id.ID{})

	paySet := func(counter uint64) *store.Settlement {
		rcptAddr, rcptBump := addr.Receipt(treasury.Address.Bytes(), counter)
		now := time.Now().UTC()

		return &store.Settlement{
			Direction:       receipt.TreasuryToRecipient,
			Amount:          50,
			Debit:           store.Container{Address: treasAddr, Owner: treasury.Address.String(), Bump: treasBump},
			Credit:          store.Container{Address: recvAddr, Owner: recipient.String(), Bump: recvBump},
			ProvisionCredit: true,
			AdvancePayCount: true,
			Receipt: &receipt.Receipt{
				Entity:      types.NewEntity(),
				Address:     rcptAddr,
				Bump:        rcptBump,
				Direction:   receipt.TreasuryToRecipient,
				AssetKind:   receipt.Native,
				Amount:      50,
				User:        recipient,
				Treasury:    treasury.Address,
				SeedCounter: counter,
				Timestamp:   now,
			},
			Now: now,
		}
	}

	if _, err := s.ApplySettlement(ctx, paySet(0)); err != nil {
		t.Fatalf("first pay: %v", err)
	}

	// A second pay built against the stale counter lost its race.
	if _, err := s.ApplySettlement(ctx, paySet(0)); !errors.Is(err, custody.ErrAddressOccupied) {
		t.Fatalf("stale counter: got %v, want ErrAddressOccupied", err)
	}

	if _, err := s.ApplySettlement(ctx, paySet(1)); err != nil {
		t.Fatalf("second pay: %v", err)
	}

	tr, _ := s.GetTreasury(ctx)
	if tr.PayCount != 2 {
		t.Errorf("PayCount = %d, want 2", tr.PayCount)
	}
}

func TestListReceipts(t *testing.T) {
	s, treasury, profile := newFixture(t)
	ctx := context.Background()

	userBal := fundedContainer(t, s, profile.Authority.String(), profile.Authority.Bytes(), 1000)
	treasAddr, treasBump := treasury.BalanceAddress(id.ID{})
	treasBal := &vault.Balance{Address: treasAddr, Owner: treasury.Address.String(), Bump: treasBump}

	for i := 0; i < 3; i++ {
		p, err := s.GetActor(ctx, profile.Authority)
		if err != nil {
			t.Fatal(err)
		}
		set := depositSettlement(treasury, p, userBal, treasBal, 10)
		set.ProvisionCredit = true
		if _, err := s.ApplySettlement(ctx, set); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	all, err := s.ListReceipts(ctx, receipt.ListOpts{User: profile.Authority})
	if err != nil {
		t.Fatalf("ListReceipts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d receipts, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Slot <= all[i-1].Slot {
			t.Errorf("receipts out of commit order at %d", i)
		}
	}

	dir := receipt.TreasuryToUser
	none, err := s.ListReceipts(ctx, receipt.ListOpts{User: profile.Authority, Direction: &dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("direction filter leaked %d receipts", len(none))
	}

	page, err := s.ListReceipts(ctx, receipt.ListOpts{User: profile.Authority, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Fatalf("page: got %d receipts, want 1", len(page))
	}
	if page[0].SeedCounter != 1 {
		t.Errorf("page[0].SeedCounter = %d, want 1", page[0].SeedCounter)
	}
}

func TestCreditBalanceProvisions(t *testing.T) {
	s, _, profile := newFixture(t)
	ctx := context.Background()

	address, bump := vault.ActorBalanceAddress(profile.Authority, id.ID{})
	b := &vault.Balance{Address: address, Owner: profile.Authority.String(), Bump: bump}

	slot, err := s.CreditBalance(ctx, b, 250)
	if err != nil {
		t.Fatalf("CreditBalance: %v", err)
	}
	if slot == 0 {
		t.Error("expected nonzero commit slot")
	}

	got, err := s.GetBalance(ctx, address)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got.Amount != 250 {
		t.Errorf("amount = %d, want 250", got.Amount)
	}

	if _, err := s.CreditBalance(ctx, b, types.MaxAmount); !errors.Is(err, custody.ErrMathOverflow) {
		t.Errorf("overflow credit: got %v, want ErrMathOverflow", err)
	}
}

func TestSlotMonotonicity(t *testing.T) {
	s, _, profile := newFixture(t)
	ctx := context.Background()

	address, bump := vault.ActorBalanceAddress(profile.Authority, id.ID{})
	b := &vault.Balance{Address: address, Owner: profile.Authority.String(), Bump: bump}

	prev, _ := s.CurrentSlot(ctx)
	for i := 0; i < 5; i++ {
		slot, err := s.CreditBalance(ctx, b, 1)
		if err != nil {
			t.Fatal(err)
		}
		if slot <= prev {
			t.Fatalf("slot %d not greater than %d", slot, prev)
		}
		prev = slot
	}
}

func TestClosedStore(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if err := s.Ping(context.Background()); !errors.Is(err, custody.ErrStoreClosed) {
		t.Errorf("Ping: got %v, want ErrStoreClosed", err)
	}
	if _, err := s.CreateTreasury(context.Background(), vault.New(id.NewActorID())); !errors.Is(err, custody.ErrStoreClosed) {
		t.Errorf("CreateTreasury: got %v, want ErrStoreClosed", err)
	}
}
