package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"instructor/internal/task"
)

// Client 任务后端客户端：会话引导对话 + 最新清单拉取。
// Client talks to the task backend: the guided chat that refines a task
// description into a checklist, and the latest-checklist fetch.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建后端客户端 / New creates a backend client.
func New(baseURL string, timeoutMS int) *Client {
	httpClient := &http.Client{}
	if timeoutMS > 0 {
		httpClient.Timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

// FeedbackRequest 引导对话请求；TaskID 为空表示首轮。
// FeedbackRequest starts or continues the guided chat. An empty TaskID means
// the opening turn; follow-ups carry the TaskID from the first response.
type FeedbackRequest struct {
	TaskDescription        string `json:"task_description"`
	Address                string `json:"address,omitempty"`
	AdditionalInstructions string `json:"additional_instructions,omitempty"`
	TaskID                 string `json:"task_id,omitempty"`
}

// FeedbackResponse 引导对话响应
// FeedbackResponse is one turn of the guided chat. FinalInstruction is set
// when the backend considers the task description complete.
type FeedbackResponse struct {
	TaskID           string      `json:"task_id"`
	Response         string      `json:"response"`
	MultipleChoice   []string    `json:"multiple_choice,omitempty"`
	FinalInstruction string      `json:"final_instruction,omitempty"`
	Subtasks         []task.Item `json:"subtasks,omitempty"`
}

// GenerateFeedback 调用引导对话端点 / GenerateFeedback calls the guided chat endpoint.
func (c *Client) GenerateFeedback(ctx context.Context, req FeedbackRequest) (FeedbackResponse, error) {
	if strings.TrimSpace(req.TaskDescription) == "" {
		return FeedbackResponse{}, fmt.Errorf("task_description is empty")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return FeedbackResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	var out FeedbackResponse
	if err := c.postJSON(ctx, "/api/generate_feedback_on_task_description", body, &out); err != nil {
		return FeedbackResponse{}, err
	}
	return out, nil
}

// LatestTasks 拉取最新清单；任何失败都返回 fallback 而不是错误。
// LatestTasks fetches the newest checklist. On any failure the fallback list
// is returned so a dead backend never blocks a session.
func (c *Client) LatestTasks(ctx context.Context, fallback task.List) task.List {
	var out struct {
		Subtasks []task.Item `json:"subtasks"`
	}
	if err := c.getJSON(ctx, "/api/get_latest_task", &out); err != nil {
		return fallback
	}
	list := task.Normalize(out.Subtasks)
	if len(list) == 0 {
		return fallback
	}
	return list
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("backend base URL is empty")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("backend base URL is empty")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return c.do(httpReq, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
