package slackcmd

import (
	"encoding/json"
	"strings"
	"time"
)

type slackSocketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type slackEventsAPIPayload struct {
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	EventTime int64           `json:"event_time,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type slackEvent struct {
	Type        string `json:"type,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
	User        string `json:"user,omitempty"`
	Text        string `json:"text,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	Team        string `json:"team,omitempty"`
}

type slackInboundEvent struct {
	TeamID    string
	ChannelID string
	ChatType  string
	MessageTS string
	ThreadTS  string
	UserID    string
	Text      string
	EventID   string
	SentAt    time.Time
}

// parseSlackInboundEvent extracts a user message from an events_api
// envelope. Bot messages, message subtypes, and the bot's own messages are
// filtered out here.
func parseSlackInboundEvent(envelope slackSocketEnvelope, botUserID string) (slackInboundEvent, bool, error) {
	if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
		return slackInboundEvent{}, false, nil
	}
	var payload slackEventsAPIPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return slackInboundEvent{}, false, err
	}
	var event slackEvent
	if err := json.Unmarshal(payload.Event, &event); err != nil {
		return slackInboundEvent{}, false, err
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType != "message" && eventType != "app_mention" {
		return slackInboundEvent{}, false, nil
	}
	if strings.TrimSpace(event.Subtype) != "" {
		return slackInboundEvent{}, false, nil
	}
	if strings.TrimSpace(event.BotID) != "" {
		return slackInboundEvent{}, false, nil
	}
	userID := strings.TrimSpace(event.User)
	if userID == "" || userID == strings.TrimSpace(botUserID) {
		return slackInboundEvent{}, false, nil
	}
	channelID := strings.TrimSpace(event.Channel)
	if channelID == "" {
		return slackInboundEvent{}, false, nil
	}
	messageTS := strings.TrimSpace(event.TS)
	if messageTS == "" {
		return slackInboundEvent{}, false, nil
	}
	text := strings.TrimSpace(stripBotMention(event.Text, botUserID))
	teamID := strings.TrimSpace(payload.TeamID)
	if teamID == "" {
		teamID = strings.TrimSpace(event.Team)
	}

	sentAt := time.Now().UTC()
	if payload.EventTime > 0 {
		sentAt = time.Unix(payload.EventTime, 0).UTC()
	}

	return slackInboundEvent{
		TeamID:    teamID,
		ChannelID: channelID,
		ChatType:  normalizeSlackChatType(event.ChannelType, channelID),
		MessageTS: messageTS,
		ThreadTS:  strings.TrimSpace(event.ThreadTS),
		UserID:    userID,
		Text:      text,
		EventID:   strings.TrimSpace(payload.EventID),
		SentAt:    sentAt,
	}, true, nil
}

func stripBotMention(text, botUserID string) string {
	botUserID = strings.TrimSpace(botUserID)
	if botUserID == "" {
		return text
	}
	return strings.ReplaceAll(text, "<@"+botUserID+">", "")
}

func normalizeSlackChatType(channelType, channelID string) string {
	channelType = strings.ToLower(strings.TrimSpace(channelType))
	switch channelType {
	case "im", "mpim", "channel", "private_channel":
		return channelType
	}
	switch {
	case strings.HasPrefix(channelID, "D"):
		return "im"
	case strings.HasPrefix(channelID, "C"):
		return "channel"
	case strings.HasPrefix(channelID, "G"):
		return "private_channel"
	default:
		return "channel"
	}
}

func slackConversationKey(teamID, channelID, userID string) string {
	return strings.TrimSpace(teamID) + ":" + strings.TrimSpace(channelID) + ":" + strings.TrimSpace(userID)
}

func toAllowlist(items []string) map[string]bool {
	out := make(map[string]bool)
	for _, raw := range items {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}
