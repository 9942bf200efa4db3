package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientCompleteParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q, want Bearer test-key", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if req.Model != "dreamer-model" {
			t.Errorf("request model = %q, want dreamer-model", req.Model)
		}
		resp := chatResponse{
			Model: "dreamer-model",
			Choices: []chatChoice{
				{Message: Message{Role: "assistant", Content: "intent: refactor"}, FinishReason: "stop"},
			},
			Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "dreamer-model"}, nil)
	got, err := c.Complete(context.Background(), "you are the dreamer", "what should change?")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Content != "intent: refactor" {
		t.Errorf("Content = %q, want %q", got.Content, "intent: refactor")
	}
	if got.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", got.FinishReason)
	}
	if got.Usage.TotalTokens != 15 {
		t.Errorf("Usage.TotalTokens = %d, want 15", got.Usage.TotalTokens)
	}
}

func TestClientCompleteRejectsMissingAPIKey(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused", Model: "m"}, nil)
	if _, err := c.Complete(context.Background(), "", "hi"); err == nil {
		t.Fatalf("Complete with no API key = nil error, want error")
	}
}

func TestClientCompleteSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(chatResponse{Error: &apiError{Message: "rate limited", Type: "rate_limit_error"}})
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "m"}, nil)
	_, err := c.Complete(context.Background(), "", "hi")
	if err == nil {
		t.Fatalf("Complete against 429 = nil error, want error")
	}
}

func TestClientCompleteRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{Model: "m"})
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "m"}, nil)
	if _, err := c.Complete(context.Background(), "", "hi"); err == nil {
		t.Fatalf("Complete with zero choices = nil error, want error")
	}
}
