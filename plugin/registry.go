package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onTreasuryInitialized []OnTreasuryInitialized
	onPauseChanged        []OnPauseChanged
	onActorRegistered     []OnActorRegistered
	onDeposit             []OnDeposit
	onWithdraw            []OnWithdraw
	onPay                 []OnPay
	onReceiptCreated      []OnReceiptCreated
	riskScorers           map[string]RiskScorer
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:      slog.Default(),
		riskScorers: make(map[string]RiskScorer),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnTreasuryInitialized); ok {
		r.onTreasuryInitialized = append(r.onTreasuryInitialized, v)
	}
	if v, ok := p.(OnPauseChanged); ok {
		r.onPauseChanged = append(r.onPauseChanged, v)
	}
	if v, ok := p.(OnActorRegistered); ok {
		r.onActorRegistered = append(r.onActorRegistered, v)
	}
	if v, ok := p.(OnDeposit); ok {
		r.onDeposit = append(r.onDeposit, v)
	}
	if v, ok := p.(OnWithdraw); ok {
		r.onWithdraw = append(r.onWithdraw, v)
	}
	if v, ok := p.(OnPay); ok {
		r.onPay = append(r.onPay, v)
	}
	if v, ok := p.(OnReceiptCreated); ok {
		r.onReceiptCreated = append(r.onReceiptCreated, v)
	}
	if v, ok := p.(RiskScorer); ok {
		r.riskScorers[v.ScorerName()] = v
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnTreasuryInitialized)(nil)).Elem(), "OnTreasuryInitialized")
	checkInterface(reflect.TypeOf((*OnPauseChanged)(nil)).Elem(), "OnPauseChanged")
	checkInterface(reflect.TypeOf((*OnActorRegistered)(nil)).Elem(), "OnActorRegistered")
	checkInterface(reflect.TypeOf((*OnDeposit)(nil)).Elem(), "OnDeposit")
	checkInterface(reflect.TypeOf((*OnWithdraw)(nil)).Elem(), "OnWithdraw")
	checkInterface(reflect.TypeOf((*OnPay)(nil)).Elem(), "OnPay")
	checkInterface(reflect.TypeOf((*OnReceiptCreated)(nil)).Elem(), "OnReceiptCreated")
	checkInterface(reflect.TypeOf((*RiskScorer)(nil)).Elem(), "RiskScorer")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTreasuryInitialized emits the one-time treasury bootstrap event.
func (r *Registry) EmitTreasuryInitialized(ctx context.Context, treasury interface{}) {
	r.mu.RLock()
	plugins := r.onTreasuryInitialized
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTreasuryInitialized(ctx, treasury)
		}); err != nil {
			r.logger.Warn("plugin OnTreasuryInitialized failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPauseChanged emits a pause toggle event.
func (r *Registry) EmitPauseChanged(ctx context.Context, paused bool, slot uint64) {
	r.mu.RLock()
	plugins := r.onPauseChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPauseChanged(ctx, paused, slot)
		}); err != nil {
			r.logger.Warn("plugin OnPauseChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitActorRegistered emits an actor registration event.
func (r *Registry) EmitActorRegistered(ctx context.Context, profile interface{}) {
	r.mu.RLock()
	plugins := r.onActorRegistered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnActorRegistered(ctx, profile)
		}); err != nil {
			r.logger.Warn("plugin OnActorRegistered failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDeposit emits a deposit settlement event.
func (r *Registry) EmitDeposit(ctx context.Context, rcpt interface{}) {
	r.mu.RLock()
	plugins := r.onDeposit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDeposit(ctx, rcpt)
		}); err != nil {
			r.logger.Warn("plugin OnDeposit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}

	r.emitReceiptCreated(ctx, rcpt)
}

// EmitWithdraw emits a withdrawal settlement event.
func (r *Registry) EmitWithdraw(ctx context.Context, rcpt interface{}) {
	r.mu.RLock()
	plugins := r.onWithdraw
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWithdraw(ctx, rcpt)
		}); err != nil {
			r.logger.Warn("plugin OnWithdraw failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}

	r.emitReceiptCreated(ctx, rcpt)
}

// EmitPay emits a payment settlement event.
func (r *Registry) EmitPay(ctx context.Context, rcpt interface{}) {
	r.mu.RLock()
	plugins := r.onPay
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPay(ctx, rcpt)
		}); err != nil {
			r.logger.Warn("plugin OnPay failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}

	r.emitReceiptCreated(ctx, rcpt)
}

// emitReceiptCreated fans a receipt out to the direction-agnostic hook.
// Callers that settled without a receipt pass nil and nothing is emitted.
func (r *Registry) emitReceiptCreated(ctx context.Context, rcpt interface{}) {
	if rcpt == nil {
		return
	}

	r.mu.RLock()
	plugins := r.onReceiptCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReceiptCreated(ctx, rcpt)
		}); err != nil {
			r.logger.Warn("plugin OnReceiptCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// GetRiskScorer returns a risk scorer by name.
func (r *Registry) GetRiskScorer(name string) RiskScorer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.riskScorers[name]
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the settlement pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
