package slackcmd

import (
	"encoding/json"
	"testing"
)

func eventsEnvelope(t *testing.T, payload map[string]any) slackSocketEnvelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return slackSocketEnvelope{EnvelopeID: "env-1", Type: "events_api", Payload: raw}
}

func TestParseSlackInboundEvent(t *testing.T) {
	t.Parallel()

	envelope := eventsEnvelope(t, map[string]any{
		"team_id":    "T111",
		"event_id":   "Ev01",
		"event_time": 1773667600,
		"event": map[string]any{
			"type":         "app_mention",
			"user":         "U333",
			"text":         "<@UBOT> what is the weather",
			"channel":      "C222",
			"channel_type": "channel",
			"ts":           "1773667600.000100",
			"thread_ts":    "1773667000.000050",
		},
	})

	event, ok, err := parseSlackInboundEvent(envelope, "UBOT")
	if err != nil {
		t.Fatalf("parseSlackInboundEvent() error = %v", err)
	}
	if !ok {
		t.Fatalf("parseSlackInboundEvent() ok = false, want true")
	}
	if event.TeamID != "T111" || event.ChannelID != "C222" || event.UserID != "U333" {
		t.Fatalf("event = %+v, want T111/C222/U333", event)
	}
	if event.Text != "what is the weather" {
		t.Fatalf("event.Text = %q, want bot mention stripped", event.Text)
	}
	if event.ChatType != "channel" {
		t.Fatalf("event.ChatType = %q, want %q", event.ChatType, "channel")
	}
	if event.ThreadTS != "1773667000.000050" {
		t.Fatalf("event.ThreadTS = %q", event.ThreadTS)
	}
	if event.EventID != "Ev01" {
		t.Fatalf("event.EventID = %q, want Ev01", event.EventID)
	}
}

func TestParseSlackInboundEventFilters(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		event map[string]any
	}{
		{
			name: "bot message",
			event: map[string]any{
				"type": "message", "user": "U333", "bot_id": "B999",
				"text": "hi", "channel": "C222", "ts": "1.2",
			},
		},
		{
			name: "own message",
			event: map[string]any{
				"type": "message", "user": "UBOT",
				"text": "hi", "channel": "C222", "ts": "1.2",
			},
		},
		{
			name: "subtype",
			event: map[string]any{
				"type": "message", "subtype": "message_changed", "user": "U333",
				"text": "hi", "channel": "C222", "ts": "1.2",
			},
		},
		{
			name: "wrong event type",
			event: map[string]any{
				"type": "reaction_added", "user": "U333",
				"channel": "C222", "ts": "1.2",
			},
		},
		{
			name: "missing user",
			event: map[string]any{
				"type": "message", "text": "hi", "channel": "C222", "ts": "1.2",
			},
		},
	}
	for _, tc := range cases {
		envelope := eventsEnvelope(t, map[string]any{"team_id": "T111", "event": tc.event})
		_, ok, err := parseSlackInboundEvent(envelope, "UBOT")
		if err != nil {
			t.Errorf("%s: error = %v", tc.name, err)
		}
		if ok {
			t.Errorf("%s: ok = true, want filtered out", tc.name)
		}
	}
}

func TestNormalizeSlackChatType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		channelType string
		channelID   string
		want        string
	}{
		{"im", "D123", "im"},
		{"channel", "C123", "channel"},
		{"", "D123", "im"},
		{"", "C123", "channel"},
		{"", "G123", "private_channel"},
		{"", "X123", "channel"},
	}
	for _, tc := range cases {
		if got := normalizeSlackChatType(tc.channelType, tc.channelID); got != tc.want {
			t.Errorf("normalizeSlackChatType(%q, %q) = %q, want %q", tc.channelType, tc.channelID, got, tc.want)
		}
	}
}

func TestSlackConversationKeyIncludesUser(t *testing.T) {
	t.Parallel()

	a := slackConversationKey("T1", "C1", "U1")
	b := slackConversationKey("T1", "C1", "U2")
	if a == b {
		t.Fatalf("keys for different users collide: %q", a)
	}
	if a != "T1:C1:U1" {
		t.Fatalf("key = %q, want %q", a, "T1:C1:U1")
	}
}

func TestToAllowlist(t *testing.T) {
	t.Parallel()

	got := toAllowlist([]string{" T1 ", "", "T2"})
	if len(got) != 2 || !got["T1"] || !got["T2"] {
		t.Fatalf("toAllowlist = %v, want T1 and T2", got)
	}
}
