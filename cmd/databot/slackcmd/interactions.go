package slackcmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/databothq/databot/internal/jsonutil"
)

const (
	actionFeedbackUp   = "feedback_up"
	actionFeedbackDown = "feedback_down"

	feedbackModalCallbackID = "feedback_modal"
	feedbackCategoriesBlock = "feedback_categories"
	feedbackCategoriesInput = "categories_select"
	feedbackCommentBlock    = "feedback_comment"
	feedbackCommentInput    = "comment_input"
)

type slackInteractionPayload struct {
	Type      string `json:"type,omitempty"`
	TriggerID string `json:"trigger_id,omitempty"`
	User      struct {
		ID string `json:"id,omitempty"`
	} `json:"user,omitempty"`
	Channel struct {
		ID string `json:"id,omitempty"`
	} `json:"channel,omitempty"`
	Actions []slackBlockAction `json:"actions,omitempty"`
	View    slackViewPayload   `json:"view,omitempty"`
}

type slackBlockAction struct {
	ActionID string `json:"action_id,omitempty"`
	Value    string `json:"value,omitempty"`
}

type slackViewPayload struct {
	CallbackID      string `json:"callback_id,omitempty"`
	PrivateMetadata string `json:"private_metadata,omitempty"`
	State           struct {
		Values map[string]map[string]slackViewStateValue `json:"values,omitempty"`
	} `json:"state,omitempty"`
}

type slackViewStateValue struct {
	Type            string `json:"type,omitempty"`
	Value           string `json:"value,omitempty"`
	SelectedOptions []struct {
		Value string `json:"value,omitempty"`
	} `json:"selected_options,omitempty"`
}

// parseInteractionPayload decodes an interactive envelope payload. Some
// delivery paths wrap or pad the JSON, so decoding is tolerant.
func parseInteractionPayload(raw json.RawMessage) (slackInteractionPayload, error) {
	var payload slackInteractionPayload
	if err := jsonutil.DecodeWithFallback(string(raw), &payload); err != nil {
		return slackInteractionPayload{}, err
	}
	return payload, nil
}

// negativeFeedback is the structured form content of a submitted feedback
// modal. Both fields are optional; a bare negative is valid.
type negativeFeedback struct {
	TurnID     string
	Categories []string
	Comment    string
}

func parseNegativeFeedback(view slackViewPayload) (negativeFeedback, error) {
	if strings.TrimSpace(view.CallbackID) != feedbackModalCallbackID {
		return negativeFeedback{}, fmt.Errorf("unexpected view callback_id %q", view.CallbackID)
	}
	out := negativeFeedback{TurnID: strings.TrimSpace(view.PrivateMetadata)}
	for _, blockValues := range view.State.Values {
		if value, ok := blockValues[feedbackCategoriesInput]; ok {
			for _, opt := range value.SelectedOptions {
				category := strings.TrimSpace(opt.Value)
				if category != "" {
					out.Categories = append(out.Categories, category)
				}
			}
		}
		if value, ok := blockValues[feedbackCommentInput]; ok {
			out.Comment = strings.TrimSpace(value.Value)
		}
	}
	return out, nil
}

// feedbackActionsBlock renders the thumbs-up / thumbs-down buttons attached
// to every assistant reply. The button value carries the turn id, which may
// be empty when the completion yielded no correlation id.
func feedbackActionsBlock(replyText, turnID string) json.RawMessage {
	blocks := []map[string]any{
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": replyText},
		},
		{
			"type": "actions",
			"elements": []map[string]any{
				{
					"type":      "button",
					"action_id": actionFeedbackUp,
					"text":      map[string]any{"type": "plain_text", "text": ":thumbsup:", "emoji": true},
					"value":     turnID,
				},
				{
					"type":      "button",
					"action_id": actionFeedbackDown,
					"text":      map[string]any{"type": "plain_text", "text": ":thumbsdown:", "emoji": true},
					"value":     turnID,
				},
			},
		},
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return nil
	}
	return raw
}

var feedbackCategoryOptions = []string{
	"Inaccurate",
	"Off-topic",
	"Unhelpful",
	"Unsafe or inappropriate",
}

// feedbackModalView builds the structured thumbs-down form. The turn id
// rides in private_metadata so the submission can be attached to the turn.
func feedbackModalView(turnID string) json.RawMessage {
	options := make([]map[string]any, 0, len(feedbackCategoryOptions))
	for _, name := range feedbackCategoryOptions {
		options = append(options, map[string]any{
			"text":  map[string]any{"type": "plain_text", "text": name},
			"value": name,
		})
	}
	view := map[string]any{
		"type":             "modal",
		"callback_id":      feedbackModalCallbackID,
		"private_metadata": turnID,
		"title":            map[string]any{"type": "plain_text", "text": "Feedback"},
		"submit":           map[string]any{"type": "plain_text", "text": "Submit"},
		"close":            map[string]any{"type": "plain_text", "text": "Cancel"},
		"blocks": []map[string]any{
			{
				"type":     "input",
				"block_id": feedbackCategoriesBlock,
				"optional": true,
				"label":    map[string]any{"type": "plain_text", "text": "What went wrong?"},
				"element": map[string]any{
					"type":      "multi_static_select",
					"action_id": feedbackCategoriesInput,
					"options":   options,
				},
			},
			{
				"type":     "input",
				"block_id": feedbackCommentBlock,
				"optional": true,
				"label":    map[string]any{"type": "plain_text", "text": "Anything else?"},
				"element": map[string]any{
					"type":      "plain_text_input",
					"action_id": feedbackCommentInput,
					"multiline": true,
				},
			},
		},
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return nil
	}
	return raw
}
