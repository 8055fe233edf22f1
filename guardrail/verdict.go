package guardrail

type Category string

const (
	CategorySensitiveData   Category = "sensitive_data"
	CategoryContentPolicy   Category = "content_policy"
	CategoryPromptInjection Category = "prompt_injection"
)

// LabelDetectionUnavailable is the synthetic label attached when the
// sensitive-data classifier itself cannot be reached. The message is still
// blocked (fail-closed).
const LabelDetectionUnavailable = "Detection Service Unavailable"

// Verdict is the outcome of screening a single message. It is computed per
// message and never persisted beyond the telemetry sink.
type Verdict struct {
	Blocked  bool
	Category Category
	// Labels are the classifier category names (sensitive-data) or the
	// flagged moderation categories.
	Labels []string
	// Scores are the per-category moderation scores, set for content-policy
	// blocks only.
	Scores map[string]float64
	// Redacted is the safe-to-log form of the screened text. For sensitive
	// data blocks it is the classifier's redaction, never the raw text.
	Redacted string
	// Warning is the in-character reply to post instead of a completion.
	Warning string
}

func Clear() Verdict {
	return Verdict{}
}

const (
	warningSensitiveData = "I detected what looks like sensitive personal data in your message, so I did not process it. Please remove any personal identifiers and try again."
	warningContentPolicy = "I am not able to engage with that message. It was flagged by our content policy, so let us talk about something else."
	warningInjection     = "Curious. That message reads like an attempt to override my instructions. I must decline, but I am happy to help with something else."
)

func warningFor(category Category) string {
	switch category {
	case CategorySensitiveData:
		return warningSensitiveData
	case CategoryContentPolicy:
		return warningContentPolicy
	case CategoryPromptInjection:
		return warningInjection
	default:
		return warningContentPolicy
	}
}
