package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"instructor/internal/chat"
)

func completionBody(content string) string {
	return `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": ` + jsonString(content) + `}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
	}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(OpenAIConfig{
		BaseURL:    srv.URL + "/v1",
		APIKey:     "test-key",
		Model:      "gpt-4o-mini",
		MaxRetries: 2,
	})
}

func TestOpenAIProvider_Chat(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody("looks good, keep going"))
	})

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []chat.Message{chat.Text("user", "hello")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "looks good, keep going" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestOpenAIProvider_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody("ok"))
	})

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []chat.Message{chat.Text("user", "hi")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("content = %q", resp.Content)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestOpenAIProvider_ContextCanceledNotRetried(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, completionBody("late"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Chat(ctx, ChatRequest{Messages: []chat.Message{chat.Text("user", "hi")}})
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("canceled request retried: calls = %d", got)
	}
}

func TestOpenAIProvider_JSONOnlyRequestFormat(t *testing.T) {
	var captured map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody(`{"newTaskIndex": 1}`))
	})

	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []chat.Message{chat.Text("user", "assess")},
		JSONOnly: true,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	rf, ok := captured["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_object" {
		t.Fatalf("response_format not set: %v", captured["response_format"])
	}
}

func TestOpenAIProvider_MultimodalSerialization(t *testing.T) {
	var captured map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody("seen"))
	})

	msg := chat.UserObservation("data:image/jpeg;base64,AAAA", "what changed?")
	if _, err := p.Chat(context.Background(), ChatRequest{Messages: []chat.Message{msg}}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	msgs, ok := captured["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v", captured["messages"])
	}
	parts, ok := msgs[0].(map[string]any)["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("content parts = %v", msgs[0])
	}
	first := parts[0].(map[string]any)
	if first["type"] != "image_url" {
		t.Fatalf("first part type = %v, want image_url", first["type"])
	}
}

func TestOpenAIProvider_SetModel(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{Model: "gpt-4o-mini"})
	if err := p.SetModel("  "); err == nil {
		t.Fatal("empty model should error")
	}
	if err := p.SetModel("gpt-4o"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	if p.CurrentModel() != "gpt-4o" {
		t.Fatalf("model = %q", p.CurrentModel())
	}
}
