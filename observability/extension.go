// Package observability provides a metrics extension for Custody that
// records lifecycle and settlement event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/zephyon/custody/plugin"
	"github.com/zephyon/custody/receipt"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnTreasuryInitialized = (*MetricsExtension)(nil)
	_ plugin.OnPauseChanged        = (*MetricsExtension)(nil)
	_ plugin.OnActorRegistered     = (*MetricsExtension)(nil)
	_ plugin.OnDeposit             = (*MetricsExtension)(nil)
	_ plugin.OnWithdraw            = (*MetricsExtension)(nil)
	_ plugin.OnPay                 = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide settlement metrics.
// Register it as a Custody plugin to automatically track treasury activity.
type MetricsExtension struct {
	factory MetricFactory

	// Governance metrics
	TreasuryInitialized Counter
	PauseEngaged        Counter
	PauseReleased       Counter

	// Actor metrics
	ActorsRegistered Counter

	// Settlement metrics
	Deposits       Counter
	Withdrawals    Counter
	Payments       Counter
	DepositAmount  Histogram
	WithdrawAmount Histogram
	PaymentAmount  Histogram

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Governance metrics
		TreasuryInitialized: factory.Counter("custody.treasury.initialized"),
		PauseEngaged:        factory.Counter("custody.pause.engaged"),
		PauseReleased:       factory.Counter("custody.pause.released"),

		// Actor metrics
		ActorsRegistered: factory.Counter("custody.actors.registered"),

		// Settlement metrics
		Deposits:       factory.Counter("custody.settlement.deposits"),
		Withdrawals:    factory.Counter("custody.settlement.withdrawals"),
		Payments:       factory.Counter("custody.settlement.payments"),
		DepositAmount:  factory.Histogram("custody.settlement.deposit_amount"),
		WithdrawAmount: factory.Histogram("custody.settlement.withdraw_amount"),
		PaymentAmount:  factory.Histogram("custody.settlement.payment_amount"),

		// Error metrics
		StoreErrors:  factory.Counter("custody.store.errors"),
		PluginErrors: factory.Counter("custody.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Governance hooks
// ──────────────────────────────────────────────────

// OnTreasuryInitialized implements plugin.OnTreasuryInitialized.
func (m *MetricsExtension) OnTreasuryInitialized(_ context.Context, _ interface{}) error {
	m.TreasuryInitialized.Inc()
	return nil
}

// OnPauseChanged implements plugin.OnPauseChanged.
func (m *MetricsExtension) OnPauseChanged(_ context.Context, paused bool, _ uint64) error {
	if paused {
		m.PauseEngaged.Inc()
	} else {
		m.PauseReleased.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Actor hooks
// ──────────────────────────────────────────────────

// OnActorRegistered implements plugin.OnActorRegistered.
func (m *MetricsExtension) OnActorRegistered(_ context.Context, _ interface{}) error {
	m.ActorsRegistered.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnDeposit implements plugin.OnDeposit.
func (m *MetricsExtension) OnDeposit(_ context.Context, rcpt interface{}) error {
	m.Deposits.Inc()
	if r, ok := rcpt.(*receipt.Receipt); ok {
		m.DepositAmount.Observe(float64(r.Amount.Uint64()))
	}
	return nil
}

// OnWithdraw implements plugin.OnWithdraw.
func (m *MetricsExtension) OnWithdraw(_ context.Context, rcpt interface{}) error {
	m.Withdrawals.Inc()
	if r, ok := rcpt.(*receipt.Receipt); ok {
		m.WithdrawAmount.Observe(float64(r.Amount.Uint64()))
	}
	return nil
}

// OnPay implements plugin.OnPay.
func (m *MetricsExtension) OnPay(_ context.Context, rcpt interface{}) error {
	m.Payments.Inc()
	if r, ok := rcpt.(*receipt.Receipt); ok {
		m.PaymentAmount.Observe(float64(r.Amount.Uint64()))
	}
	return nil
}
