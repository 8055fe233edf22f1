// Package guardrail runs the three-stage compliance screen over inbound
// text: sensitive-data detection, content moderation, prompt-injection rules.
// Stages run in strict order and the first to trigger short-circuits the
// rest; no completion call is ever made for a blocked message.
package guardrail

import (
	"context"
	"log/slog"
	"strings"

	"github.com/databothq/databot/llm"
	"github.com/databothq/databot/telemetry"
)

// Detector is the sensitive-data classifier capability (pii.Client).
type Detector interface {
	Inspect(ctx context.Context, text string) ([]string, error)
	Redact(ctx context.Context, text string) (string, error)
}

// redactedFallback is logged in place of the raw text when the redaction
// call itself fails. Raw sensitive text must never reach the sink.
const redactedFallback = "[message withheld: redaction unavailable]"

type Options struct {
	Detector  Detector
	Moderator llm.Moderator
	Sink      telemetry.Sink
	Logger    *slog.Logger
	// ModerationFailClosed flips stage two from the default fail-open
	// behavior to blocking on classifier errors.
	ModerationFailClosed bool
}

type Engine struct {
	detector             Detector
	moderator            llm.Moderator
	sink                 telemetry.Sink
	logger               *slog.Logger
	moderationFailClosed bool
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &Engine{
		detector:             opts.Detector,
		moderator:            opts.Moderator,
		sink:                 sink,
		logger:               logger,
		moderationFailClosed: opts.ModerationFailClosed,
	}
}

// Screen classifies one message. Every verdict, Clear included, is recorded
// on the telemetry sink with redacted or already-screened text only.
func (e *Engine) Screen(ctx context.Context, text, userID, channelKind string) Verdict {
	if e == nil {
		return Clear()
	}

	// Stage 1: sensitive data, fail-closed.
	if verdict, done := e.screenSensitiveData(ctx, text, userID, channelKind); done {
		return verdict
	}

	// Stage 2: content moderation, fail-open unless configured otherwise.
	if verdict, done := e.screenModeration(ctx, text, userID, channelKind); done {
		return verdict
	}

	// Stage 3: local injection rules.
	if rule := matchInjection(text); rule != "" {
		verdict := Verdict{
			Blocked:  true,
			Category: CategoryPromptInjection,
			Labels:   []string{rule},
			Redacted: text,
			Warning:  warningFor(CategoryPromptInjection),
		}
		e.record(ctx, verdict, userID, channelKind)
		return verdict
	}

	verdict := Clear()
	verdict.Redacted = text
	e.record(ctx, verdict, userID, channelKind)
	return verdict
}

func (e *Engine) screenSensitiveData(ctx context.Context, text, userID, channelKind string) (Verdict, bool) {
	if e.detector == nil {
		return Clear(), false
	}
	labels, err := e.detector.Inspect(ctx, text)
	if err != nil {
		e.logger.Warn("guardrail_detection_unavailable", "user_id", userID, "error", err.Error())
		verdict := Verdict{
			Blocked:  true,
			Category: CategorySensitiveData,
			Labels:   []string{LabelDetectionUnavailable},
			Redacted: redactedFallback,
			Warning:  warningFor(CategorySensitiveData),
		}
		e.record(ctx, verdict, userID, channelKind)
		return verdict, true
	}
	if len(labels) == 0 {
		return Clear(), false
	}
	redacted, err := e.detector.Redact(ctx, text)
	if err != nil {
		e.logger.Warn("guardrail_redaction_error", "user_id", userID, "error", err.Error())
		redacted = redactedFallback
	}
	verdict := Verdict{
		Blocked:  true,
		Category: CategorySensitiveData,
		Labels:   labels,
		Redacted: redacted,
		Warning:  warningFor(CategorySensitiveData),
	}
	e.record(ctx, verdict, userID, channelKind)
	return verdict, true
}

func (e *Engine) screenModeration(ctx context.Context, text, userID, channelKind string) (Verdict, bool) {
	if e.moderator == nil {
		return Clear(), false
	}
	mod, err := e.moderator.Moderate(ctx, text)
	if err != nil {
		if !e.moderationFailClosed {
			e.logger.Warn("guardrail_moderation_error_fail_open", "user_id", userID, "error", err.Error())
			return Clear(), false
		}
		e.logger.Warn("guardrail_moderation_error_fail_closed", "user_id", userID, "error", err.Error())
		verdict := Verdict{
			Blocked:  true,
			Category: CategoryContentPolicy,
			Labels:   []string{"Moderation Service Unavailable"},
			Redacted: text,
			Warning:  warningFor(CategoryContentPolicy),
		}
		e.record(ctx, verdict, userID, channelKind)
		return verdict, true
	}
	if !mod.Flagged {
		return Clear(), false
	}
	verdict := Verdict{
		Blocked:  true,
		Category: CategoryContentPolicy,
		Labels:   mod.FlaggedCategories(),
		Scores:   mod.Scores,
		Redacted: text,
		Warning:  warningFor(CategoryContentPolicy),
	}
	e.record(ctx, verdict, userID, channelKind)
	return verdict, true
}

func (e *Engine) record(ctx context.Context, verdict Verdict, userID, channelKind string) {
	tags := map[string]string{
		"channel_kind": strings.TrimSpace(channelKind),
		"user_id":      strings.TrimSpace(userID),
	}
	if verdict.Blocked {
		tags["category"] = string(verdict.Category)
	} else {
		tags["category"] = "clear"
	}
	metadata := map[string]any{
		"text": verdict.Redacted,
	}
	if len(verdict.Labels) > 0 {
		metadata["labels"] = strings.Join(verdict.Labels, ",")
	}
	e.sink.RecordEvent(ctx, "guardrail_screen", tags, metadata)
}
