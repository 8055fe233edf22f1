package llm

import "errors"

// ErrContentPolicy marks a completion rejected by the provider's own content
// policy. Callers map it to a more specific user-facing apology than the
// generic failure text.
var ErrContentPolicy = errors.New("completion rejected by provider content policy")
