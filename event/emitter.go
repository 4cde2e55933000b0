package event

import (
	"context"
	"log/slog"
)

// Record is one emitted event: a stable name plus a payload struct from
// this package.
type Record struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// Emitter appends event records to the execution's observable log.
// Implementations must not fail a settlement: emission happens after the
// effect set has committed.
type Emitter interface {
	Emit(ctx context.Context, rec Record)
}

// EmitterFunc adapts a plain function to an Emitter.
type EmitterFunc func(ctx context.Context, rec Record)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, rec Record) {
	f(ctx, rec)
}

// LogEmitter writes every record to a slog.Logger at Info level, keyed by
// the stable event name.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger falls back to
// slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(ctx context.Context, rec Record) {
	e.logger.InfoContext(ctx, "event emitted",
		"event", rec.Name,
		"payload", rec.Payload,
	)
}

// Multi fans one record out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, rec Record) {
	for _, e := range m {
		e.Emit(ctx, rec)
	}
}
