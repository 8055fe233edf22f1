package convmem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/databothq/databot/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestAppendEvictsOldestEntries(t *testing.T) {
	t.Parallel()

	store := NewMemStore(0)
	memory := New(Options{Store: store, WindowSize: 20, TTL: 24 * time.Hour, Logger: testLogger()})
	ctx := context.Background()

	for i := 1; i <= 11; i++ {
		if err := memory.Append(ctx, "U1", fmt.Sprintf("input %d", i), fmt.Sprintf("output %d", i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	window := memory.LoadWindow(ctx, "U1")
	if len(window) != 20 {
		t.Fatalf("len(window) = %d, want 20", len(window))
	}
	if window[0].Role != llm.RoleUser || window[0].Content != "input 2" {
		t.Fatalf("window[0] = %+v, want user %q (oldest exchange evicted)", window[0], "input 2")
	}
	if last := window[len(window)-1]; last.Role != llm.RoleAssistant || last.Content != "output 11" {
		t.Fatalf("window[last] = %+v, want assistant %q", last, "output 11")
	}
}

func TestWindowPreservesOrderAndRoles(t *testing.T) {
	t.Parallel()

	store := NewMemStore(0)
	memory := New(Options{Store: store, Logger: testLogger()})
	ctx := context.Background()

	if err := memory.Append(ctx, "U1", "first question", "first answer"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := memory.Append(ctx, "U1", "second question", "second answer"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	window := memory.LoadWindow(ctx, "U1")
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "first question"},
		{Role: llm.RoleAssistant, Content: "first answer"},
		{Role: llm.RoleUser, Content: "second question"},
		{Role: llm.RoleAssistant, Content: "second answer"},
	}
	if len(window) != len(want) {
		t.Fatalf("len(window) = %d, want %d", len(window), len(want))
	}
	for i := range want {
		if window[i] != want[i] {
			t.Fatalf("window[%d] = %+v, want %+v", i, window[i], want[i])
		}
	}
}

func TestWindowExpiresAfterIdle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemStore(0)
	store.SetNow(func() time.Time { return now })
	memory := New(Options{Store: store, TTL: 24 * time.Hour, Logger: testLogger(), Now: func() time.Time { return now }})
	ctx := context.Background()

	if err := memory.Append(ctx, "U1", "hello", "greetings"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	now = now.Add(23 * time.Hour)
	if window := memory.LoadWindow(ctx, "U1"); len(window) != 2 {
		t.Fatalf("len(window) before expiry = %d, want 2", len(window))
	}

	now = now.Add(2 * time.Hour)
	if window := memory.LoadWindow(ctx, "U1"); len(window) != 0 {
		t.Fatalf("len(window) after expiry = %d, want 0", len(window))
	}
}

func TestTouchExpirySlidesWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemStore(0)
	store.SetNow(func() time.Time { return now })
	memory := New(Options{Store: store, TTL: 24 * time.Hour, Logger: testLogger(), Now: func() time.Time { return now }})
	ctx := context.Background()

	if err := memory.Append(ctx, "U1", "hello", "greetings"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// 23h idle, then activity re-arms the TTL.
	now = now.Add(23 * time.Hour)
	if err := memory.TouchExpiry(ctx, "U1"); err != nil {
		t.Fatalf("TouchExpiry() error = %v", err)
	}

	// 25h past the original write, but only 2h past the touch.
	now = now.Add(2 * time.Hour)
	if window := memory.LoadWindow(ctx, "U1"); len(window) != 2 {
		t.Fatalf("len(window) = %d, want 2 (touch should have slid the TTL)", len(window))
	}
}

type failingStore struct{}

func (failingStore) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("store is down")
}

func (failingStore) SetWithTTL(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return fmt.Errorf("store is down")
}

func (failingStore) Expire(_ context.Context, _ string, _ time.Duration) error {
	return fmt.Errorf("store is down")
}

func TestLoadWindowDegradesOnStoreFailure(t *testing.T) {
	t.Parallel()

	memory := New(Options{Store: failingStore{}, Logger: testLogger()})
	window := memory.LoadWindow(context.Background(), "U1")
	if len(window) != 0 {
		t.Fatalf("len(window) = %d, want 0 (store failure degrades to empty)", len(window))
	}
}

func TestAppendReportsStoreFailure(t *testing.T) {
	t.Parallel()

	memory := New(Options{Store: failingStore{}, Logger: testLogger()})
	if err := memory.Append(context.Background(), "U1", "hello", "greetings"); err == nil {
		t.Fatalf("Append() error = nil, want store failure")
	}
}

func TestMemStorePrunesOldestExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemStore(2)
	store.SetNow(func() time.Time { return now })
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "a", []byte("1"), 1*time.Hour); err != nil {
		t.Fatalf("SetWithTTL() error = %v", err)
	}
	if err := store.SetWithTTL(ctx, "b", []byte("2"), 2*time.Hour); err != nil {
		t.Fatalf("SetWithTTL() error = %v", err)
	}
	if err := store.SetWithTTL(ctx, "c", []byte("3"), 3*time.Hour); err != nil {
		t.Fatalf("SetWithTTL() error = %v", err)
	}

	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatalf("key %q survived prune, want evicted (oldest expiry)", "a")
	}
	if _, ok, _ := store.Get(ctx, "c"); !ok {
		t.Fatalf("key %q missing, want kept", "c")
	}
}
