package assess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"instructor/internal/chat"
	"instructor/internal/provider"
	"instructor/internal/task"
)

// ErrMalformed 模型响应缺字段或无法解析
// ErrMalformed marks a response missing required fields or unparseable as JSON.
var ErrMalformed = errors.New("malformed assessment response")

// Verdict 模型对当前进度的判定
// Verdict is the model's judgement of the user's progress. NewIndex is the
// model's claimed checklist position and is untrusted until clamped through
// task.Progress.Apply. Guidance may be empty, meaning nothing worth saying.
type Verdict struct {
	Guidance     string `json:"promptToUser"`
	NewIndex     int    `json:"newTaskIndex"`
	ImageSummary string `json:"imageSummary"`
}

// Client 评估客户端：组装请求、调用模型、解析判定。无内部状态。
// Client assembles assessment requests, calls the model, and parses verdicts.
// It is stateless; all progress state lives with the caller.
type Client struct {
	provider     provider.Provider
	model        string
	systemPrompt string
	maxTokens    int
}

// New 创建评估客户端 / New creates an assessment client.
func New(p provider.Provider, model, systemPrompt string, maxTokens int) *Client {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{
		provider:     p,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
	}
}

// observationPayload 观察变体的请求载荷，随用户消息一起发送。
// observationPayload is the request body sent as the user turn's text part.
type observationPayload struct {
	TaskList         task.List `json:"taskList"`
	CurrentTaskIndex int       `json:"currentTaskIndex"`
	PastSummaries    []string  `json:"past15ImageSummaries"`
}

// AssessObservation 观察变体：一张图像 + 最近摘要。
// AssessObservation is the snapshot variant: one captured image plus the
// recent observation summaries for continuity.
func (c *Client) AssessObservation(ctx context.Context, progress task.Progress, imageDataURL string, pastSummaries []string) (Verdict, error) {
	payload := observationPayload{
		TaskList:         progress.List,
		CurrentTaskIndex: progress.Index,
		PastSummaries:    pastSummaries,
	}
	if payload.PastSummaries == nil {
		payload.PastSummaries = []string{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal observation payload: %w", err)
	}

	messages := []chat.Message{
		chat.Text("system", c.systemPrompt),
		chat.UserObservation(imageDataURL, string(body)),
	}
	return c.call(ctx, messages)
}

// AssessConversation 对话变体：有界的多模态回合历史。
// AssessConversation is the conversational variant: the bounded turn history
// is sent verbatim after a user turn carrying the checklist position.
func (c *Client) AssessConversation(ctx context.Context, progress task.Progress, history []chat.Message) (Verdict, error) {
	head := struct {
		TaskList         task.List `json:"taskList"`
		CurrentTaskIndex int       `json:"currentTaskIndex"`
	}{progress.List, progress.Index}
	body, err := json.Marshal(head)
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal conversation payload: %w", err)
	}

	messages := make([]chat.Message, 0, len(history)+2)
	messages = append(messages, chat.Text("system", c.systemPrompt))
	messages = append(messages, history...)
	messages = append(messages, chat.Text("user", string(body)))
	return c.call(ctx, messages)
}

func (c *Client) call(ctx context.Context, messages []chat.Message) (Verdict, error) {
	resp, err := c.provider.Chat(ctx, provider.ChatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
		JSONOnly:  true,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("assessment call: %w", err)
	}
	return ParseVerdict(resp.Content)
}

// ParseVerdict 从模型输出中解析判定；容忍代码围栏，缺 newTaskIndex 视为畸形。
// ParseVerdict parses a verdict from raw model output. Fenced code blocks are
// tolerated. A response without a usable newTaskIndex is ErrMalformed.
func ParseVerdict(raw string) (Verdict, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return Verdict{}, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	// 用指针字段区分 "缺字段" 和 "零值" / Pointer fields distinguish absent from zero.
	var probe struct {
		Guidance     *string `json:"promptToUser"`
		NewIndex     *int    `json:"newTaskIndex"`
		ImageSummary *string `json:"imageSummary"`
	}
	if err := json.Unmarshal([]byte(cleaned), &probe); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if probe.NewIndex == nil {
		return Verdict{}, fmt.Errorf("%w: missing newTaskIndex", ErrMalformed)
	}

	v := Verdict{NewIndex: *probe.NewIndex}
	if probe.Guidance != nil {
		v.Guidance = strings.TrimSpace(*probe.Guidance)
	}
	if probe.ImageSummary != nil {
		v.ImageSummary = strings.TrimSpace(*probe.ImageSummary)
	}
	return v, nil
}

// stripFences 去掉 ```json 围栏并截取最外层对象
// stripFences drops markdown fences and slices out the outermost JSON object.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
