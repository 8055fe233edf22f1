// Package llm declares the model-facing capability seams consumed by the
// turn pipeline: chat completion, content moderation, and image generation.
// Providers live under providers/ and implement these interfaces.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation window, in model order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the result of a chat completion call. RunID is the
// provider-side correlation id when the provider yields one; it may be empty.
type Completion struct {
	Text  string
	RunID string
}

type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []Message, userText string) (Completion, error)
}

// Moderation reports whether a text was flagged, which categories tripped,
// and the per-category scores. Flags carries the provider's own per-category
// verdicts; Scores is informational and scores nearly every category with a
// small non-zero value even on clean text.
type Moderation struct {
	Flagged bool
	Flags   map[string]bool
	Scores  map[string]float64
}

// FlaggedCategories returns the names of the categories the provider marked
// as tripped, for flagged results where the caller only needs the labels.
func (m Moderation) FlaggedCategories() []string {
	out := make([]string, 0, len(m.Flags))
	for name, tripped := range m.Flags {
		if tripped {
			out = append(out, name)
		}
	}
	return out
}

type Moderator interface {
	Moderate(ctx context.Context, text string) (Moderation, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}
