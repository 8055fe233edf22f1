// Package convmem is the per-user conversation memory: a bounded FIFO window
// of recent messages behind a key-value store with a sliding TTL. An active
// user's window persists indefinitely; an idle user's window expires whole.
package convmem

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/databothq/databot/llm"
)

const (
	// DefaultWindowSize is the fixed window capacity in raw messages
	// (both roles), i.e. ten exchanges.
	DefaultWindowSize = 20

	DefaultTTL = 24 * time.Hour

	keyPrefix = "databot:conv:"
)

// Store is the key-value capability backing conversation windows.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetWithTTL writes the value and (re)arms the key's expiry.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Expire re-arms the expiry of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type entry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type Options struct {
	Store      Store
	WindowSize int
	TTL        time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

type Memory struct {
	store      Store
	windowSize int
	ttl        time.Duration
	logger     *slog.Logger
	nowFn      func() time.Time
}

func New(opts Options) *Memory {
	windowSize := opts.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Memory{
		store:      opts.Store,
		windowSize: windowSize,
		ttl:        ttl,
		logger:     logger,
		nowFn:      nowFn,
	}
}

// LoadWindow returns the user's window in chronological order. A store
// failure degrades to an empty window: the conversation continues without
// memory rather than failing the turn.
func (m *Memory) LoadWindow(ctx context.Context, userID string) []llm.Message {
	entries := m.loadEntries(ctx, userID)
	out := make([]llm.Message, 0, len(entries))
	for _, item := range entries {
		out = append(out, llm.Message{Role: item.Role, Content: item.Text})
	}
	return out
}

// Append adds one exchange (user input + assistant output), evicts the
// oldest entries past capacity, and resets the window's TTL.
func (m *Memory) Append(ctx context.Context, userID, inputText, outputText string) error {
	now := m.nowFn().UTC()
	entries := m.loadEntries(ctx, userID)
	entries = append(entries,
		entry{Role: llm.RoleUser, Text: inputText, At: now},
		entry{Role: llm.RoleAssistant, Text: outputText, At: now},
	)
	if len(entries) > m.windowSize {
		entries = entries[len(entries)-m.windowSize:]
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return m.store.SetWithTTL(ctx, windowKey(userID), raw, m.ttl)
}

// TouchExpiry re-arms the sliding TTL without changing the window.
func (m *Memory) TouchExpiry(ctx context.Context, userID string) error {
	return m.store.Expire(ctx, windowKey(userID), m.ttl)
}

func (m *Memory) loadEntries(ctx context.Context, userID string) []entry {
	if m == nil || m.store == nil {
		return nil
	}
	raw, ok, err := m.store.Get(ctx, windowKey(userID))
	if err != nil {
		m.logger.Warn("convmem_load_degraded", "user_id", userID, "error", err.Error())
		return nil
	}
	if !ok || len(raw) == 0 {
		return nil
	}
	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		m.logger.Warn("convmem_decode_degraded", "user_id", userID, "error", err.Error())
		return nil
	}
	return entries
}

func windowKey(userID string) string {
	return keyPrefix + strings.TrimSpace(userID)
}
