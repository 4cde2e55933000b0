// Package audithook bridges Custody settlement events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zephyon/custody/plugin"
	"github.com/zephyon/custody/receipt"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnTreasuryInitialized = (*Extension)(nil)
	_ plugin.OnPauseChanged        = (*Extension)(nil)
	_ plugin.OnActorRegistered     = (*Extension)(nil)
	_ plugin.OnDeposit             = (*Extension)(nil)
	_ plugin.OnWithdraw            = (*Extension)(nil)
	_ plugin.OnPay                 = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Custody settlement events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Governance hooks
// ──────────────────────────────────────────────────

// OnTreasuryInitialized implements plugin.OnTreasuryInitialized.
func (e *Extension) OnTreasuryInitialized(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionTreasuryInitialized, SeverityInfo, OutcomeSuccess,
		ResourceTreasury, "", CategoryGovernance, nil,
		"event", "treasury_initialized",
	)
}

// OnPauseChanged implements plugin.OnPauseChanged.
func (e *Extension) OnPauseChanged(ctx context.Context, paused bool, slot uint64) error {
	action := ActionTreasuryResumed
	severity := SeverityInfo
	if paused {
		action = ActionTreasuryPaused
		severity = SeverityWarning
	}

	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceTreasury, "", CategoryGovernance, nil,
		"paused", paused,
		"slot", slot,
	)
}

// ──────────────────────────────────────────────────
// Actor hooks
// ──────────────────────────────────────────────────

// OnActorRegistered implements plugin.OnActorRegistered.
func (e *Extension) OnActorRegistered(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionActorRegistered, SeverityInfo, OutcomeSuccess,
		ResourceActor, "", CategoryRegistration, nil,
		"event", "actor_registered",
	)
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnDeposit implements plugin.OnDeposit.
func (e *Extension) OnDeposit(ctx context.Context, rcpt interface{}) error {
	return e.record(ctx, ActionDeposit, SeverityInfo, OutcomeSuccess,
		ResourceSettlement, receiptID(rcpt), CategorySettlement, nil,
		receiptMeta(rcpt)...,
	)
}

// OnWithdraw implements plugin.OnWithdraw.
func (e *Extension) OnWithdraw(ctx context.Context, rcpt interface{}) error {
	return e.record(ctx, ActionWithdraw, SeverityInfo, OutcomeSuccess,
		ResourceSettlement, receiptID(rcpt), CategorySettlement, nil,
		receiptMeta(rcpt)...,
	)
}

// OnPay implements plugin.OnPay.
func (e *Extension) OnPay(ctx context.Context, rcpt interface{}) error {
	return e.record(ctx, ActionPay, SeverityInfo, OutcomeSuccess,
		ResourceSettlement, receiptID(rcpt), CategorySettlement, nil,
		receiptMeta(rcpt)...,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// receiptID extracts the receipt address for the resource ID, if a receipt
// was produced.
func receiptID(rcpt interface{}) string {
	r, ok := rcpt.(*receipt.Receipt)
	if !ok || r == nil {
		return ""
	}
	return r.Address.String()
}

// receiptMeta flattens receipt fields into metadata key/value pairs.
func receiptMeta(rcpt interface{}) []any {
	r, ok := rcpt.(*receipt.Receipt)
	if !ok || r == nil {
		return nil
	}
	return []any{
		"user", r.User.String(),
		"amount", r.Amount.Uint64(),
		"direction", uint8(r.Direction),
		"seed_counter", r.SeedCounter,
		"slot", r.Slot,
	}
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
