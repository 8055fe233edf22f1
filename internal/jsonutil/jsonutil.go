// Package jsonutil decodes JSON payloads that may arrive wrapped in
// markdown code fences or surrounded by prose, as interactive payloads and
// model outputs sometimes are.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyInput = errors.New("jsonutil: empty input")

// DecodeWithFallback tries a direct unmarshal first, then strips a leading
// code fence, then falls back to the outermost {...} or [...] slice.
func DecodeWithFallback(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrEmptyInput
	}
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	if stripped := stripCodeFence(raw); stripped != raw {
		if err := json.Unmarshal([]byte(stripped), out); err == nil {
			return nil
		}
	}
	if slice := outermostJSON(raw); slice != "" {
		if err := json.Unmarshal([]byte(slice), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("jsonutil: input is not valid json")
}

func stripCodeFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	body := strings.TrimPrefix(raw, "```")
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

func outermostJSON(raw string) string {
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(raw, pair[0])
		end := strings.LastIndex(raw, pair[1])
		if start >= 0 && end > start {
			return raw[start : end+1]
		}
	}
	return ""
}
