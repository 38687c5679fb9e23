package jsonutil

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrEmptyInput = errors.New("jsonutil: empty input")

// DecodeWithFallback decodes raw JSON, tolerating the code fences and
// surrounding prose that LLM responses tend to carry.
func DecodeWithFallback(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrEmptyInput
	}
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	if fenced := stripCodeFence(raw); fenced != "" {
		if err := json.Unmarshal([]byte(fenced), out); err == nil {
			return nil
		}
	}
	if embedded := extractJSONObject(raw); embedded != "" {
		return json.Unmarshal([]byte(embedded), out)
	}
	return json.Unmarshal([]byte(raw), out)
}

func stripCodeFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return ""
	}
	body := strings.TrimPrefix(raw, "```")
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func extractJSONObject(raw string) string {
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return ""
	}
	var end int
	if raw[start] == '{' {
		end = strings.LastIndex(raw, "}")
	} else {
		end = strings.LastIndex(raw, "]")
	}
	if end <= start {
		return ""
	}
	return strings.TrimSpace(raw[start : end+1])
}
