package jsonutil

import (
	"errors"
	"testing"
)

func TestDecodeWithFallbackDirectJSON(t *testing.T) {
	var out struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	err := DecodeWithFallback(`{"category":"status_query","confidence":0.9}`, &out)
	if err != nil {
		t.Fatalf("DecodeWithFallback() error = %v", err)
	}
	if out.Category != "status_query" {
		t.Fatalf("category = %q, want status_query", out.Category)
	}
	if out.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want 0.9", out.Confidence)
	}
}

func TestDecodeWithFallbackCodeFenceJSON(t *testing.T) {
	var out struct {
		Category string `json:"category"`
	}
	err := DecodeWithFallback("```json\n{\"category\":\"escalation\"}\n```", &out)
	if err != nil {
		t.Fatalf("DecodeWithFallback() error = %v", err)
	}
	if out.Category != "escalation" {
		t.Fatalf("category = %q, want escalation", out.Category)
	}
}

func TestDecodeWithFallbackProseWrappedJSON(t *testing.T) {
	var out struct {
		Entities map[string]string `json:"entities"`
	}
	raw := "Sure, here is the classification: {\"entities\":{\"email\":\"amy@example.com\"}} hope that helps"
	if err := DecodeWithFallback(raw, &out); err != nil {
		t.Fatalf("DecodeWithFallback() error = %v", err)
	}
	if out.Entities["email"] != "amy@example.com" {
		t.Fatalf("email = %q, want amy@example.com", out.Entities["email"])
	}
}

func TestDecodeWithFallbackEmptyInput(t *testing.T) {
	var out map[string]any
	err := DecodeWithFallback(" \n\t ", &out)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDecodeWithFallbackRejectsInvalidInput(t *testing.T) {
	var out map[string]any
	if err := DecodeWithFallback("not a json payload", &out); err == nil {
		t.Fatalf("expected error for invalid input")
	}
}
