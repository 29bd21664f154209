package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"instructor/internal/chat"
)

func TestRegexCompaction_Summarize(t *testing.T) {
	c := &RegexCompaction{}
	messages := []chat.Message{
		{Role: "user", Content: "Help me plan brewing a pot of tea"},
		{Role: "assistant", Content: "What kind of tea will you use?"},
		{Role: "user", Content: "Green tea, and avoid boiling water"},
	}

	summary, err := c.Summarize(context.Background(), messages)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(summary, "activity") {
		t.Fatalf("summary should contain 'activity': %q", summary)
	}
	if !strings.Contains(summary, "avoid boiling water") {
		t.Fatalf("summary should capture constraint: %q", summary)
	}
}

func TestLLMCompaction_Summarize(t *testing.T) {
	mockSummarizer := func(_ context.Context, sys, user string) (string, error) {
		if !strings.Contains(sys, "summarizer") {
			return "", fmt.Errorf("expected system prompt")
		}
		return "LLM summary: planning a tea brewing session", nil
	}

	c := NewLLMCompaction(mockSummarizer, 500)
	messages := []chat.Message{
		{Role: "user", Content: "Brew tea"},
		{Role: "assistant", Content: "Sure"},
	}

	summary, err := c.Summarize(context.Background(), messages)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(summary, "LLM summary") {
		t.Fatalf("summary should contain 'LLM summary': %q", summary)
	}
}

func TestLLMCompaction_NoSummarizer(t *testing.T) {
	c := NewLLMCompaction(nil, 500)
	_, err := c.Summarize(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error with nil summarizer")
	}
}

func TestFallbackCompaction(t *testing.T) {
	failingLLM := &LLMCompaction{
		summarize: func(_ context.Context, _, _ string) (string, error) {
			return "", fmt.Errorf("network error")
		},
	}
	regex := &RegexCompaction{}
	fallback := NewFallbackCompaction(failingLLM, regex)

	messages := []chat.Message{
		{Role: "user", Content: "Test fallback behavior"},
		{Role: "assistant", Content: "OK"},
	}

	summary, err := fallback.Summarize(context.Background(), messages)
	if err != nil {
		t.Fatalf("Fallback should not error: %v", err)
	}
	if strings.TrimSpace(summary) == "" {
		t.Fatal("Fallback should produce non-empty summary")
	}
}

func TestCompactWithStrategy_TooFewMessages(t *testing.T) {
	messages := []chat.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
	result, _, changed := CompactWithStrategy(context.Background(), messages, 4, nil)
	if changed {
		t.Fatal("should not compact with too few messages")
	}
	if len(result) != 2 {
		t.Fatalf("result len=%d, want 2", len(result))
	}
}

func TestCompactWithStrategy_FoldsOlderTurns(t *testing.T) {
	messages := make([]chat.Message, 20)
	for i := range messages {
		if i%2 == 0 {
			messages[i] = chat.Message{Role: "user", Content: fmt.Sprintf("message %d", i)}
		} else {
			messages[i] = chat.Message{Role: "assistant", Content: fmt.Sprintf("response %d", i)}
		}
	}

	result, summary, changed := CompactWithStrategy(context.Background(), messages, 4, &RegexCompaction{})
	if !changed {
		t.Fatal("should have compacted")
	}
	if strings.TrimSpace(summary) == "" {
		t.Fatal("summary should not be empty")
	}
	if len(result) != 5 {
		t.Fatalf("compacted len=%d, want 5 (summary + 4 recent)", len(result))
	}
	// 第一条应该是 compaction summary / First should be compaction summary
	if !strings.Contains(result[0].Content, "COMPACTION_SUMMARY") {
		t.Fatalf("first message should be summary: %q", result[0].Content)
	}
	if result[len(result)-1].Content != "response 19" {
		t.Fatalf("newest turn should survive verbatim: %q", result[len(result)-1].Content)
	}
}

func TestBuildSummaryInput(t *testing.T) {
	messages := []chat.Message{
		{Role: "user", Content: "help me repot a plant"},
		{Role: "assistant", Content: "Which pot size do you have?"},
		chat.UserObservation("data:image/jpeg;base64,AAAA", "current state of the desk"),
	}

	input := buildSummaryInput(messages)
	if !strings.Contains(input, "User: help me repot a plant") {
		t.Fatalf("should contain user message: %q", input)
	}
	if !strings.Contains(input, "current state of the desk") {
		t.Fatalf("should include text parts of multimodal turns: %q", input)
	}
	if strings.Contains(input, "base64") {
		t.Fatalf("image payloads must not leak into summary input: %q", input)
	}
}
