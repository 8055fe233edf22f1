// Package turns orchestrates one conversation turn: guardrail screen,
// memory load, completion call, memory write, reply assembly.
package turns

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/databothq/databot/convmem"
	"github.com/databothq/databot/guardrail"
	"github.com/databothq/databot/llm"
	"github.com/databothq/databot/telemetry"
)

// Reply is the user-visible outcome of a turn. TurnID is the completion
// call's correlation id when one was issued; empty for local replies,
// blocked turns, and providers that yield none.
type Reply struct {
	Text   string
	TurnID string
}

type Options struct {
	Guard       *guardrail.Engine
	Memory      *convmem.Memory
	Completer   llm.Completer
	Sink        telemetry.Sink
	Logger      *slog.Logger
	Personality string
}

type Processor struct {
	guard       *guardrail.Engine
	memory      *convmem.Memory
	completer   llm.Completer
	sink        telemetry.Sink
	logger      *slog.Logger
	personality string
}

func New(opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &Processor{
		guard:       opts.Guard,
		memory:      opts.Memory,
		completer:   opts.Completer,
		sink:        sink,
		logger:      logger,
		personality: opts.Personality,
	}
}

// Process runs the full pipeline for one inbound message. It always returns
// a postable reply; failures are mapped to fixed in-character texts and the
// detail goes to the log only.
func (p *Processor) Process(ctx context.Context, userText, userID, channelKind string) Reply {
	text := strings.TrimSpace(userText)
	if text == "" {
		return Reply{Text: emptyInputReply}
	}

	if imageRequestPattern.MatchString(text) {
		return Reply{Text: imageRedirectReply}
	}

	if p.guard != nil {
		verdict := p.guard.Screen(ctx, text, userID, channelKind)
		if verdict.Blocked {
			return Reply{Text: verdict.Warning}
		}
	}

	var history []llm.Message
	if p.memory != nil {
		history = p.memory.LoadWindow(ctx, userID)
	}

	completion, err := p.completer.Complete(ctx, p.personality, history, text)
	if err != nil {
		if errors.Is(err, llm.ErrContentPolicy) {
			p.logger.Warn("turn_completion_content_policy", "user_id", userID)
			return Reply{Text: contentPolicyReply}
		}
		p.logger.Error("turn_completion_error", "user_id", userID, "error", err.Error())
		return Reply{Text: genericErrorReply}
	}

	if p.memory != nil {
		if err := p.memory.Append(ctx, userID, text, completion.Text); err != nil {
			p.logger.Error("turn_memory_append_error", "user_id", userID, "error", err.Error())
			return Reply{Text: genericErrorReply}
		}
		if err := p.memory.TouchExpiry(ctx, userID); err != nil {
			p.logger.Error("turn_memory_touch_error", "user_id", userID, "error", err.Error())
			return Reply{Text: genericErrorReply}
		}
	}

	p.sink.RecordEvent(ctx, "turn_completed", map[string]string{
		"channel_kind": channelKind,
		"user_id":      userID,
	}, map[string]any{
		"run_id": completion.RunID,
	})

	return Reply{Text: completion.Text, TurnID: completion.RunID}
}
