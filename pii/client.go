// Package pii is the client for the external sensitive-data detection
// service. It exposes the two calls the guardrail engine needs: classify a
// text into sensitive-data categories, and produce a redacted copy with
// detected spans replaced by category placeholders.
package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(httpClient *http.Client, baseURL, apiKey string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
	}
}

type inspectRequest struct {
	Text string `json:"text"`
}

type inspectResponse struct {
	Categories []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence,omitempty"`
	} `json:"categories"`
}

// Inspect classifies text and returns the detected sensitive-data category
// labels, empty when the text is clean.
func (c *Client) Inspect(ctx context.Context, text string) ([]string, error) {
	body, status, err := c.postJSON(ctx, "/v1/inspect", inspectRequest{Text: text})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("pii inspect http %d", status)
	}
	var out inspectResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("pii inspect decode: %w", err)
	}
	labels := make([]string, 0, len(out.Categories))
	for _, cat := range out.Categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			continue
		}
		labels = append(labels, name)
	}
	return labels, nil
}

type redactRequest struct {
	Text string `json:"text"`
}

type redactResponse struct {
	RedactedText string `json:"redacted_text"`
}

// Redact returns the text with detected spans replaced by category names.
func (c *Client) Redact(ctx context.Context, text string) (string, error) {
	body, status, err := c.postJSON(ctx, "/v1/redact", redactRequest{Text: text})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("pii redact http %d", status)
	}
	var out redactResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("pii redact decode: %w", err)
	}
	redacted := strings.TrimSpace(out.RedactedText)
	if redacted == "" {
		return "", fmt.Errorf("pii redact returned empty text")
	}
	return redacted, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, int, error) {
	if c == nil || c.http == nil {
		return nil, 0, fmt.Errorf("pii client is not initialized")
	}
	if c.baseURL == "" {
		return nil, 0, fmt.Errorf("pii endpoint is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, readErr
	}
	return body, resp.StatusCode, nil
}
