package plugin

import (
	"context"
	"errors"
	"testing"
)

// recordingPlugin implements every settlement hook and records calls.
type recordingPlugin struct {
	name     string
	inits    int
	deposits int
	receipts int
	pauses   []bool
	err      error
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) OnInit(_ context.Context, _ interface{}) error {
	p.inits++
	return p.err
}

func (p *recordingPlugin) OnDeposit(_ context.Context, _ interface{}) error {
	p.deposits++
	return p.err
}

func (p *recordingPlugin) OnReceiptCreated(_ context.Context, _ interface{}) error {
	p.receipts++
	return p.err
}

func (p *recordingPlugin) OnPauseChanged(_ context.Context, paused bool, _ uint64) error {
	p.pauses = append(p.pauses, paused)
	return p.err
}

// bareID implements only the base Plugin interface.
type bareID struct{ name string }

func (p bareID) Name() string { return p.name }

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(bareID{name: "indexer"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(bareID{name: "indexer"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if r.Count() != 1 {
		t.Errorf("count: got %d, want 1", r.Count())
	}
}

func TestGetAndList(t *testing.T) {
	r := NewRegistry()
	p := &recordingPlugin{name: "audit"}
	if err := r.Register(p); err != nil {
		t.Fatal(err)
	}

	if got := r.Get("audit"); got != p {
		t.Errorf("get: got %v", got)
	}
	if got := r.Get("missing"); got != nil {
		t.Errorf("get missing: got %v, want nil", got)
	}
	if got := len(r.List()); got != 1 {
		t.Errorf("list: got %d plugins, want 1", got)
	}
}

func TestDispatchOnlyToImplementers(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	hooked := &recordingPlugin{name: "hooked"}
	if err := r.Register(hooked); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(bareID{name: "bare"}); err != nil {
		t.Fatal(err)
	}

	r.EmitInit(ctx, nil)
	r.EmitPauseChanged(ctx, true, 7)
	r.EmitPauseChanged(ctx, false, 8)

	if hooked.inits != 1 {
		t.Errorf("inits: got %d, want 1", hooked.inits)
	}
	if len(hooked.pauses) != 2 || !hooked.pauses[0] || hooked.pauses[1] {
		t.Errorf("pauses: got %v, want [true false]", hooked.pauses)
	}
}

func TestDepositFansIntoReceiptCreated(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	p := &recordingPlugin{name: "indexer"}
	if err := r.Register(p); err != nil {
		t.Fatal(err)
	}

	r.EmitDeposit(ctx, struct{ addr string }{addr: "r1"})
	if p.deposits != 1 {
		t.Errorf("deposits: got %d, want 1", p.deposits)
	}
	if p.receipts != 1 {
		t.Errorf("receipts: got %d, want 1", p.receipts)
	}

	// A settlement without a receipt still notifies the deposit hook but
	// skips the receipt fan-out.
	r.EmitDeposit(ctx, nil)
	if p.deposits != 2 {
		t.Errorf("deposits: got %d, want 2", p.deposits)
	}
	if p.receipts != 1 {
		t.Errorf("receipts after nil: got %d, want 1", p.receipts)
	}
}

func TestPluginErrorDoesNotStopDispatch(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	failing := &recordingPlugin{name: "failing", err: errors.New("boom")}
	healthy := &recordingPlugin{name: "healthy"}
	if err := r.Register(failing); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(healthy); err != nil {
		t.Fatal(err)
	}

	r.EmitDeposit(ctx, struct{}{})

	if failing.deposits != 1 {
		t.Errorf("failing plugin deposits: got %d, want 1", failing.deposits)
	}
	if healthy.deposits != 1 {
		t.Errorf("healthy plugin deposits: got %d, want 1", healthy.deposits)
	}
}
