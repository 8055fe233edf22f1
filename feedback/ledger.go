// Package feedback records user-submitted reactions against a prior turn's
// identifier. Recording is at-least-once: duplicate submissions are accepted
// and the telemetry sink is the source of truth for audit counts.
package feedback

import (
	"context"
	"log/slog"
	"strings"

	"github.com/databothq/databot/telemetry"
)

const (
	scorePositive = 1
	scoreNegative = 0
)

type Ledger struct {
	sink   telemetry.Sink
	logger *slog.Logger
}

func NewLedger(sink telemetry.Sink, logger *slog.Logger) *Ledger {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{sink: sink, logger: logger}
}

// RecordPositive registers a thumbs-up with a fixed score and no detail.
func (l *Ledger) RecordPositive(ctx context.Context, turnID string) {
	if l == nil {
		return
	}
	l.warnIfUnattached(turnID)
	l.sink.RecordFeedback(ctx, strings.TrimSpace(turnID), scorePositive, "", nil)
}

// RecordNegative registers a thumbs-down with optional categories and
// comment; a bare negative with no detail is valid.
func (l *Ledger) RecordNegative(ctx context.Context, turnID string, categories []string, comment string) {
	if l == nil {
		return
	}
	l.warnIfUnattached(turnID)
	cleaned := make([]string, 0, len(categories))
	for _, raw := range categories {
		category := strings.TrimSpace(raw)
		if category == "" {
			continue
		}
		cleaned = append(cleaned, category)
	}
	l.sink.RecordFeedback(ctx, strings.TrimSpace(turnID), scoreNegative, strings.TrimSpace(comment), cleaned)
}

func (l *Ledger) warnIfUnattached(turnID string) {
	if strings.TrimSpace(turnID) == "" {
		// Accepted but cannot be attached to a trace. Degraded, non-fatal.
		l.logger.Warn("feedback_without_turn_id")
	}
}
