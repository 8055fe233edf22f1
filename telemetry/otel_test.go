package telemetry

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	t.Parallel()

	got := parseHeaders("x-api-key=abc, x-team = t1 ,malformed")
	if len(got) != 2 {
		t.Fatalf("len(headers) = %d, want 2", len(got))
	}
	if got["x-api-key"] != "abc" {
		t.Fatalf("x-api-key = %q, want abc", got["x-api-key"])
	}
	if got["x-team"] != "t1" {
		t.Fatalf("x-team = %q, want t1", got["x-team"])
	}

	if got := parseHeaders(""); len(got) != 0 {
		t.Fatalf("empty input headers = %v, want none", got)
	}
}

func TestSetupWithoutEndpointReturnsNoop(t *testing.T) {
	t.Parallel()

	provider, sink, err := Setup(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if provider != nil {
		t.Fatalf("provider = %v, want nil when unconfigured", provider)
	}
	if _, ok := sink.(Noop); !ok {
		t.Fatalf("sink = %T, want Noop", sink)
	}
	// Noop must be safe to call and nil provider safe to shut down.
	sink.RecordEvent(context.Background(), "event", nil, nil)
	sink.RecordFeedback(context.Background(), "", 1, "", nil)
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
