package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestOpenRouterClientGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found"}`))
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload["response_format"] == nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"expected json response format"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"openai/gpt-4.1-mini",
			"choices":[{"message":{"role":"assistant","content":"{\"title\":\"ok\"}"}}],
			"usage":{"prompt_tokens":123,"completion_tokens":22,"total_tokens":145}
		}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		AppName: "FitCoach Test",
	})

	result, err := client.Generate(context.Background(), GenerateRequest{
		Model:           "openai/gpt-4.1-mini",
		Instructions:    "Return JSON only",
		Input:           "test prompt",
		Temperature:     0.2,
		MaxOutputTokens: 500,
		JSONMode:        true,
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Text != `{"title":"ok"}` {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Usage.TotalTokens != 145 {
		t.Fatalf("expected total tokens 145, got %d", result.Usage.TotalTokens)
	}
}

func TestOpenRouterClientMakesSingleCallOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), GenerateRequest{
		Model: "openai/gpt-4.1-mini",
		Input: "test",
	})

	var httpErr *ProviderHTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected ProviderHTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests || httpErr.Provider != "openrouter" {
		t.Fatalf("unexpected error %+v", httpErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one call, got %d", got)
	}
}

func TestOpenRouterClientParsesArrayContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"openai/gpt-4.1-mini",
			"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"line 1"},{"type":"text","text":"line 2"}]}}],
			"usage":{"prompt_tokens":5,"completion_tokens":5,"total_tokens":10}
		}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "test-key", BaseURL: server.URL})
	result, err := client.Generate(context.Background(), GenerateRequest{
		Model: "openai/gpt-4.1-mini",
		Input: "test",
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if got := result.Text; got != "line 1\nline 2" {
		t.Fatalf("unexpected parsed text: %q", got)
	}
}

func TestOpenRouterClientSendsOptionalHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("HTTP-Referer") != "https://example.com" || r.Header.Get("X-Title") != "FitCoach" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"missing attribution headers"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		SiteURL: "https://example.com",
	})
	result, err := client.Generate(context.Background(), GenerateRequest{Model: "m", Input: "test"})
	if err != nil {
		t.Fatalf("expected success with optional headers, got err=%v", err)
	}
	if result.ModelID != "m" {
		t.Fatalf("expected requested model as fallback id, got %q", result.ModelID)
	}
}

func TestClientsUnavailableWithoutKey(t *testing.T) {
	request := GenerateRequest{Model: "m", Input: "test"}
	generators := []TextGenerator{
		NewOpenRouterClient(OpenRouterClientConfig{}),
		NewOpenAIClient(OpenAIClientConfig{}),
	}
	for _, generator := range generators {
		if generator.Available() {
			t.Fatalf("expected %T unavailable", generator)
		}
		if _, err := generator.Generate(context.Background(), request); !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("expected ErrProviderUnavailable from %T, got %v", generator, err)
		}
	}
}

func TestOpenAIClientReadsOutputContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" || r.Header.Get("OpenAI-Organization") != "org-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"gpt-4.1-mini-2025",
			"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"{\"sections\":[]}"}]}],
			"usage":{"input_tokens":3,"output_tokens":4,"total_tokens":7}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIClientConfig{APIKey: "key", BaseURL: server.URL, Organization: "org-1"})
	result, err := client.Generate(context.Background(), GenerateRequest{Model: "gpt-4.1-mini", Input: "plan", JSONMode: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Text != `{"sections":[]}` || result.ModelID != "gpt-4.1-mini-2025" || result.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected result %+v", result)
	}
}
