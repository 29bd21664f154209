package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"instructor/internal/storage"
	"instructor/internal/taskapi"
)

// ErrHandoffMissing 所有存储层都没有交接数据；当前界面应重定向回上游。
// ErrHandoffMissing means no SessionHandoff exists in any storage tier. This
// is fatal for the current screen; the caller redirects upstream.
var ErrHandoffMissing = errors.New("session handoff missing from all storage tiers")

// Caller 引导端点能力 / Caller is the chat-bootstrap capability.
type Caller interface {
	GenerateFeedback(ctx context.Context, req taskapi.FeedbackRequest) (taskapi.FeedbackResponse, error)
}

// Guard 一次性引导守卫：无论初始化路径被重入多少次，
// 对引导端点的请求恰好发出一次。
// Guard makes the one-time chat-bootstrap request fire exactly once per
// session no matter how many times the initialization path is re-entered.
// Two guards stack: the dispatched flag is set before the request is issued
// (closing the re-entrancy window), and a known task ID from a restored
// session short-circuits before the flag is even consulted.
type Guard struct {
	mu         sync.Mutex
	dispatched bool
	taskID     string
	result     taskapi.FeedbackResponse
	resultErr  error
	done       chan struct{}

	chain   storage.HandoffStore
	backend Caller
}

// NewGuard 创建守卫；existingTaskID 非空表示会话已引导过。
// NewGuard creates a guard. A non-empty existingTaskID marks the session as
// already bootstrapped (restored from storage), so Bootstrap never calls out.
func NewGuard(chain storage.HandoffStore, backend Caller, existingTaskID string) *Guard {
	return &Guard{
		chain:   chain,
		backend: backend,
		taskID:  strings.TrimSpace(existingTaskID),
	}
}

// Bootstrap 执行一次性引导。重入调用等待首次请求完成并复用其结果。
// Bootstrap performs the one-time handshake. Re-entrant calls wait for the
// first request and share its outcome instead of issuing a second one.
func (g *Guard) Bootstrap(ctx context.Context) (taskapi.FeedbackResponse, error) {
	g.mu.Lock()
	if g.taskID != "" && !g.dispatched {
		// 二级守卫：恢复的会话已有 task ID，不再引导。
		// Secondary guard: a restored session already holds a task ID.
		g.mu.Unlock()
		return taskapi.FeedbackResponse{TaskID: g.taskID}, nil
	}
	if g.dispatched {
		done := g.done
		g.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return taskapi.FeedbackResponse{}, ctx.Err()
			}
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.result, g.resultErr
	}

	// 标志先行：请求发出前就关闭重入窗口。
	// Flag first: the re-entrancy window closes before the request leaves.
	g.dispatched = true
	g.done = make(chan struct{})
	g.mu.Unlock()

	result, err := g.bootstrapOnce(ctx)

	g.mu.Lock()
	g.result = result
	g.resultErr = err
	if err == nil {
		g.taskID = result.TaskID
	}
	close(g.done)
	g.mu.Unlock()
	return result, err
}

// TaskID 已知的会话 task ID / TaskID returns the session's task ID, if known.
func (g *Guard) TaskID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.taskID
}

func (g *Guard) bootstrapOnce(ctx context.Context) (taskapi.FeedbackResponse, error) {
	handoff, ok, err := g.chain.LoadHandoff()
	if err != nil {
		return taskapi.FeedbackResponse{}, fmt.Errorf("read handoff: %w", err)
	}
	if !ok {
		return taskapi.FeedbackResponse{}, ErrHandoffMissing
	}

	req := synthesizeRequest(handoff)
	resp, err := g.backend.GenerateFeedback(ctx, req)
	if err != nil {
		return taskapi.FeedbackResponse{}, fmt.Errorf("chat bootstrap: %w", err)
	}

	// 交接数据已消费；清除失败不影响结果。
	// The handoff is consumed; a failed clear is harmless.
	_ = g.chain.ClearHandoff()
	return resp, nil
}

// synthesizeRequest 字段缺失时从现有字段合成最小有效请求。
// synthesizeRequest builds a minimal valid request from whatever handoff
// fields exist; only a wholly absent handoff is fatal.
func synthesizeRequest(h storage.Handoff) taskapi.FeedbackRequest {
	description := strings.TrimSpace(h.InitialRequest)
	if description == "" {
		description = strings.TrimSpace(h.Description)
	}
	if description == "" {
		description = strings.TrimSpace(h.Name)
	}
	return taskapi.FeedbackRequest{
		TaskDescription: description,
		Address:         strings.TrimSpace(h.LocationName),
	}
}
