// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func completionResponse(content string, totalTokens int) string {
	resp := map[string]interface{}{
		"id":    "chatcmpl-test",
		"model": DefaultModel,
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 50, "completion_tokens": totalTokens - 50, "total_tokens": totalTokens},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestChatSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gsk_test" {
			t.Errorf("Missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != DefaultModel {
			t.Errorf("Model = %q, want %q", req.Model, DefaultModel)
		}
		w.Write([]byte(completionResponse("Average temperature is 23.5C.", 120)))
	}))
	defer server.Close()

	client := NewClient("gsk_test").WithBaseURL(server.URL)
	resp, err := client.Generate(context.Background(), "You analyze sensor data.", "What is the temperature?")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.GetContent() != "Average temperature is 23.5C." {
		t.Errorf("Unexpected content: %q", resp.GetContent())
	}
	if resp.Usage.TotalTokens != 120 {
		t.Errorf("TotalTokens = %d, want 120", resp.Usage.TotalTokens)
	}
}

func TestChatNotConfigured(t *testing.T) {
	client := NewClient("")
	_, err := client.Chat(context.Background(), []ChatMessage{NewUserMessage("hi")})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestChatRetriesRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":"rate_limit_exceeded","message":"slow down"}}`))
			return
		}
		w.Write([]byte(completionResponse("ok", 60)))
	}))
	defer server.Close()

	client := NewClient("gsk_test").WithBaseURL(server.URL)
	resp, err := client.Chat(context.Background(), []ChatMessage{NewUserMessage("hi")})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.GetContent() != "ok" {
		t.Errorf("Unexpected content after retry: %q", resp.GetContent())
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
}

func TestChatAuthFailureNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"invalid_api_key","message":"bad key"}}`))
	}))
	defer server.Close()

	client := NewClient("gsk_bad").WithBaseURL(server.URL)
	_, err := client.Chat(context.Background(), []ChatMessage{NewUserMessage("hi")})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Expected ErrAuthFailed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Auth failures must not be retried: %d attempts", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 1 {
		t.Errorf("EstimateTokens(\"\") = %d, want 1", got)
	}
	if got := EstimateTokens("what is the average temperature today"); got < 8 {
		t.Errorf("EstimateTokens too low: %d", got)
	}
}

func TestCalculateBackoff(t *testing.T) {
	if calculateBackoff(1) >= calculateBackoff(3) {
		t.Error("Backoff should grow with attempts")
	}
	if calculateBackoff(20) != retryMaxDelay {
		t.Errorf("Backoff should cap at %v", retryMaxDelay)
	}
}
