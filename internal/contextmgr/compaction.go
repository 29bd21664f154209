package contextmgr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"instructor/internal/chat"
)

// CompactionStrategy 上下文压缩策略接口
// CompactionStrategy defines the context compaction interface
type CompactionStrategy interface {
	// Summarize 生成消息历史的摘要
	// Summarize generates a summary of message history
	Summarize(ctx context.Context, messages []chat.Message) (string, error)
}

// LLMSummarizer 使用 LLM 进行摘要的函数类型
// LLMSummarizer is a function that calls an LLM for summarization
type LLMSummarizer func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// LLMCompaction 使用 LLM 生成摘要的策略
// LLMCompaction uses LLM to generate summaries
type LLMCompaction struct {
	summarize LLMSummarizer
	maxTokens int
}

// NewLLMCompaction 创建 LLM compaction 策略
// NewLLMCompaction creates an LLM compaction strategy
func NewLLMCompaction(summarize LLMSummarizer, maxTokens int) *LLMCompaction {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &LLMCompaction{
		summarize: summarize,
		maxTokens: maxTokens,
	}
}

const summarySystemPrompt = `You are a precise summarizer for a conversation between a user and a task-coaching assistant.
Summarize the conversation preserving:
1. The activity the user wants to be guided through
2. Constraints and preferences the user has stated
3. Decisions already made about the task description
4. Open questions the assistant still needs answered

Be concise but complete. Output plain text, no markdown formatting.
Respond in the same language as the conversation content.`

func (c *LLMCompaction) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	if c.summarize == nil {
		return "", fmt.Errorf("LLM summarizer not configured")
	}

	userPrompt := buildSummaryInput(messages)
	if strings.TrimSpace(userPrompt) == "" {
		return "", fmt.Errorf("no content to summarize")
	}

	summary, err := c.summarize(ctx, summarySystemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("LLM summarize: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// RegexCompaction 无需模型的关键词提取策略
// RegexCompaction is the model-free keyword extraction strategy
type RegexCompaction struct{}

func (c *RegexCompaction) Summarize(_ context.Context, messages []chat.Message) (string, error) {
	summary := summarizeMessages(messages)
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("regex summarize: empty result")
	}
	return summary, nil
}

// FallbackCompaction 带回退的策略: 先 LLM，失败则 regex
// FallbackCompaction tries LLM first, falls back to regex
type FallbackCompaction struct {
	primary  CompactionStrategy
	fallback CompactionStrategy
}

// NewFallbackCompaction 创建带回退的 compaction 策略
// NewFallbackCompaction creates a compaction strategy with fallback
func NewFallbackCompaction(primary, fallback CompactionStrategy) *FallbackCompaction {
	return &FallbackCompaction{primary: primary, fallback: fallback}
}

func (c *FallbackCompaction) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	if c.primary != nil {
		summary, err := c.primary.Summarize(ctx, messages)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary, nil
		}
	}
	if c.fallback != nil {
		return c.fallback.Summarize(ctx, messages)
	}
	return "", fmt.Errorf("all compaction strategies failed")
}

// CompactWithStrategy 将较旧的回合折叠为一条摘要消息，保留最近 keepRecent 条。
// CompactWithStrategy folds older turns into one summary message, keeping the
// newest keepRecent turns verbatim. Returns the original slice unchanged when
// the history is still short enough or no summary could be produced.
func CompactWithStrategy(ctx context.Context, messages []chat.Message, keepRecent int, strategy CompactionStrategy) ([]chat.Message, string, bool) {
	if keepRecent < 4 {
		keepRecent = 4
	}
	if len(messages) <= keepRecent+2 {
		return messages, "", false
	}

	msgs := append([]chat.Message(nil), messages...)
	split := len(msgs) - keepRecent
	if split < 1 {
		split = 1
	}
	head := msgs[:split]
	tail := msgs[split:]

	var summary string
	if strategy != nil {
		s, err := strategy.Summarize(ctx, head)
		if err == nil && strings.TrimSpace(s) != "" {
			summary = s
		}
	}

	// 如果 strategy 失败，回退到内置的 regex / Fallback to built-in regex
	if strings.TrimSpace(summary) == "" {
		summary = summarizeMessages(head)
	}

	if strings.TrimSpace(summary) == "" {
		return msgs, "", false
	}

	compacted := make([]chat.Message, 0, len(tail)+1)
	compacted = append(compacted, chat.Message{
		Role:    "assistant",
		Content: "[COMPACTION_SUMMARY]\n" + summary,
	})
	compacted = append(compacted, tail...)
	return compacted, summary, true
}

// buildSummaryInput 从消息列表构建摘要输入文本
// buildSummaryInput builds summarization input from messages
func buildSummaryInput(messages []chat.Message) string {
	var b strings.Builder
	b.WriteString("Conversation to summarize:\n\n")

	for _, m := range messages {
		content := strings.TrimSpace(m.PlainText())
		if content == "" {
			continue
		}
		switch m.Role {
		case "user":
			if len([]rune(content)) > 500 {
				content = string([]rune(content)[:500]) + "..."
			}
			b.WriteString("User: ")
		case "assistant":
			if len([]rune(content)) > 300 {
				content = string([]rune(content)[:300]) + "..."
			}
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func summarizeMessages(msgs []chat.Message) string {
	objective := ""
	constraints := map[string]struct{}{}
	steps := []string{}

	for _, m := range msgs {
		content := m.PlainText()
		switch m.Role {
		case "user":
			if objective == "" {
				objective = strings.TrimSpace(content)
			}
			steps = append(steps, short(content, 140))
			lower := strings.ToLower(content)
			if strings.Contains(lower, "don't") || strings.Contains(lower, "avoid") || strings.Contains(lower, "must") {
				constraints[short(content, 120)] = struct{}{}
			}
		case "assistant":
			if strings.Contains(strings.ToLower(content), "next") {
				steps = append(steps, short(content, 140))
			}
		}
	}
	if objective == "" {
		objective = "continue refining the task description"
	}

	constraintList := mapKeys(constraints, 5)
	stepList := uniqueStrings(steps, 4)

	var b strings.Builder
	b.WriteString("- activity: ")
	b.WriteString(objective)
	b.WriteString("\n")
	b.WriteString("- stated constraints: ")
	if len(constraintList) == 0 {
		b.WriteString("(none captured)")
	} else {
		b.WriteString(strings.Join(constraintList, " | "))
	}
	b.WriteString("\n")
	b.WriteString("- discussion so far: ")
	if len(stepList) == 0 {
		b.WriteString("continue from latest user request")
	} else {
		b.WriteString(strings.Join(stepList, " -> "))
	}
	return b.String()
}

func mapKeys(m map[string]struct{}, limit int) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func uniqueStrings(items []string, limit int) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func short(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}
