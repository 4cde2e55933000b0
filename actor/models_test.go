package actor

import (
	"testing"
	"time"

	"github.com/zephyon/custody/addr"
	"github.com/zephyon/custody/id"
	"github.com/zephyon/custody/types"
)

func TestNewProfile(t *testing.T) {
	authority := id.NewActorID()
	now := time.Now().UTC()

	p := New(authority, now)

	wantAddr, wantBump := addr.ActorProfile(authority.Bytes())
	if p.Address != wantAddr {
		t.Errorf("address: got %s, want %s", p.Address, wantAddr)
	}
	if p.Bump != wantBump {
		t.Errorf("bump: got %d, want %d", p.Bump, wantBump)
	}
	if !p.JoinedAt.Equal(now) {
		t.Errorf("joined at: got %v, want %v", p.JoinedAt, now)
	}
	if p.TxCount != 0 || p.DepositCount != 0 || p.WithdrawCount != 0 {
		t.Errorf("fresh profile has nonzero counters: tx=%d dep=%d wd=%d",
			p.TxCount, p.DepositCount, p.WithdrawCount)
	}
}

func TestNextSeedIsPreIncrement(t *testing.T) {
	now := time.Now().UTC()
	p := New(id.NewActorID(), now)

	for want := uint64(0); want < 3; want++ {
		if got := p.NextSeed(); got != want {
			t.Fatalf("seed before settlement %d: got %d, want %d", want, got, want)
		}
		if !p.RecordDeposit(100, now) {
			t.Fatal("record deposit failed")
		}
	}
}

func TestRecordDeposit(t *testing.T) {
	now := time.Now().UTC()
	p := New(id.NewActorID(), now)

	if !p.RecordDeposit(250, now) {
		t.Fatal("record deposit failed")
	}
	if !p.RecordDeposit(750, now) {
		t.Fatal("record deposit failed")
	}

	if p.TxCount != 2 {
		t.Errorf("tx count: got %d, want 2", p.TxCount)
	}
	if p.DepositCount != 2 {
		t.Errorf("deposit count: got %d, want 2", p.DepositCount)
	}
	if p.WithdrawCount != 0 {
		t.Errorf("withdraw count: got %d, want 0", p.WithdrawCount)
	}
	if p.TotalDeposited != 1000 {
		t.Errorf("total deposited: got %d, want 1000", p.TotalDeposited)
	}
	if !p.LastDepositAt.Equal(now) {
		t.Errorf("last deposit at: got %v, want %v", p.LastDepositAt, now)
	}
}

func TestRecordWithdraw(t *testing.T) {
	now := time.Now().UTC()
	p := New(id.NewActorID(), now)

	if !p.RecordWithdraw(400, now) {
		t.Fatal("record withdraw failed")
	}

	if p.TxCount != 1 {
		t.Errorf("tx count: got %d, want 1", p.TxCount)
	}
	if p.WithdrawCount != 1 {
		t.Errorf("withdraw count: got %d, want 1", p.WithdrawCount)
	}
	if p.TotalWithdrawn != 400 {
		t.Errorf("total withdrawn: got %d, want 400", p.TotalWithdrawn)
	}
}

func TestRecordOverflowLeavesProfileUntouched(t *testing.T) {
	now := time.Now().UTC()
	p := New(id.NewActorID(), now)
	p.TotalDeposited = types.MaxAmount

	if p.RecordDeposit(1, now) {
		t.Fatal("expected overflow to be rejected")
	}
	if p.TxCount != 0 {
		t.Errorf("tx count advanced on rejected deposit: %d", p.TxCount)
	}
	if p.TotalDeposited != types.MaxAmount {
		t.Errorf("total deposited changed on rejected deposit: %d", p.TotalDeposited)
	}

	p.TotalWithdrawn = types.MaxAmount
	if p.RecordWithdraw(1, now) {
		t.Fatal("expected overflow to be rejected")
	}
	if p.WithdrawCount != 0 {
		t.Errorf("withdraw count advanced on rejected withdrawal: %d", p.WithdrawCount)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now().UTC()
	p := New(id.NewActorID(), now)
	p.RecordDeposit(100, now)

	c := p.Clone()
	c.RecordDeposit(900, now)

	if p.TxCount != 1 {
		t.Errorf("original tx count mutated through clone: %d", p.TxCount)
	}
	if p.TotalDeposited != 100 {
		t.Errorf("original total mutated through clone: %d", p.TotalDeposited)
	}
	if c.TxCount != 2 || c.TotalDeposited != 1000 {
		t.Errorf("clone counters: tx=%d total=%d", c.TxCount, c.TotalDeposited)
	}
}
