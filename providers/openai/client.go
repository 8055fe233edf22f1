// Package openai implements the completion, moderation, and image
// generation capabilities over the OpenAI API.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/databothq/databot/llm"
)

type Config struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	ImageModel string
}

type Client struct {
	client     openai.Client
	chatModel  string
	imageModel string
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	chatModel := strings.TrimSpace(cfg.ChatModel)
	if chatModel == "" {
		chatModel = "gpt-4o"
	}
	imageModel := strings.TrimSpace(cfg.ImageModel)
	if imageModel == "" {
		imageModel = "dall-e-3"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:     openai.NewClient(opts...),
		chatModel:  chatModel,
		imageModel: imageModel,
		logger:     logger,
	}, nil
}

func (c *Client) Complete(ctx context.Context, systemPrompt string, history []llm.Message, userText string) (llm.Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range history {
		switch msg.Role {
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userText))

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.chatModel,
		Messages: messages,
	})
	if err != nil {
		if isContentPolicyError(err) {
			return llm.Completion{}, fmt.Errorf("openai chat: %w", llm.ErrContentPolicy)
		}
		return llm.Completion{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Completion{}, fmt.Errorf("openai chat: no choices in response")
	}

	c.logger.Debug("openai_chat_completed",
		"model", c.chatModel,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return llm.Completion{
		Text:  resp.Choices[0].Message.Content,
		RunID: resp.ID,
	}, nil
}

func (c *Client) Moderate(ctx context.Context, text string) (llm.Moderation, error) {
	resp, err := c.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return llm.Moderation{}, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return llm.Moderation{}, fmt.Errorf("openai moderation: empty result")
	}
	result := resp.Results[0]
	return llm.Moderation{
		Flagged: result.Flagged,
		Flags:   flagMap(result.Categories),
		Scores:  scoreMap(result.CategoryScores),
	}, nil
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	start := time.Now()
	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          c.imageModel,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
		Size:           openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image: %w", err)
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].B64JSON) == "" {
		return nil, fmt.Errorf("openai image: empty response")
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("openai image: decode: %w", err)
	}
	c.logger.Debug("openai_image_generated",
		"model", c.imageModel,
		"duration_ms", time.Since(start).Milliseconds(),
		"bytes", len(raw),
	)
	return raw, nil
}

// scoreMap flattens the fixed category-score struct into a name→score map
// via its JSON form, so new categories flow through without code changes.
func scoreMap(scores any) map[string]float64 {
	raw, err := json.Marshal(scores)
	if err != nil {
		return nil
	}
	out := make(map[string]float64)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// flagMap flattens the per-category boolean verdicts the same way.
func flagMap(categories any) map[string]bool {
	raw, err := json.Marshal(categories)
	if err != nil {
		return nil
	}
	out := make(map[string]bool)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func isContentPolicyError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := strings.ToLower(strings.TrimSpace(apiErr.Code))
		if strings.Contains(code, "content_policy") || strings.Contains(code, "content_filter") {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "content policy")
	}
	return false
}
