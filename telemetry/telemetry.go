// Package telemetry is the append-only audit sink for guardrail verdicts,
// completed turns, and user feedback. Recording is fire-and-forget: a sink
// failure is logged and must never fail the user-facing turn.
package telemetry

import "context"

type Sink interface {
	// RecordEvent records one audit event. Text carried in metadata must
	// already be redacted; raw sensitive input never reaches the sink.
	RecordEvent(ctx context.Context, name string, tags map[string]string, metadata map[string]any)

	// RecordFeedback attaches a user score to a prior turn's run id. An empty
	// runID is accepted and recorded without correlation.
	RecordFeedback(ctx context.Context, runID string, score int, comment string, categories []string)
}

// Noop discards everything. Used when no telemetry endpoint is configured.
type Noop struct{}

func (Noop) RecordEvent(context.Context, string, map[string]string, map[string]any) {}

func (Noop) RecordFeedback(context.Context, string, int, string, []string) {}
