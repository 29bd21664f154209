package orchestrator

import (
	"context"
	"time"

	"instructor/internal/assess"
	"instructor/internal/capture"
	"instructor/internal/chat"
	"instructor/internal/contextmgr"
	"instructor/internal/effects"
	"instructor/internal/storage"
	"instructor/internal/task"
)

// State 监控循环的状态机状态 / State is the monitor loop's machine state.
type State string

const (
	StateIdle      State = "idle"
	StatePaused    State = "paused"
	StateCapturing State = "capturing"
	StateAssessing State = "assessing"
	StateApplying  State = "applying"
	StateStopped   State = "stopped"
)

// Assessor 评估能力接口；生产实现为 assess.Client。
// Assessor is the assessment capability. The production implementation is
// assess.Client; tests substitute fakes.
type Assessor interface {
	AssessObservation(ctx context.Context, progress task.Progress, imageDataURL string, pastSummaries []string) (assess.Verdict, error)
	AssessConversation(ctx context.Context, progress task.Progress, history []chat.Message) (assess.Verdict, error)
}

// OnStateChange 状态变化回调（前端驱动渲染）
// OnStateChange is called on every state transition (drives the front end).
type OnStateChange = func(state State)

// OnProgress 进度变化回调 / OnProgress is called after a verdict is applied.
type OnProgress = func(progress task.Progress)

// OnNotice 非致命错误通知回调；绝不终止会话。
// OnNotice surfaces recoverable errors as non-blocking notices.
type OnNotice = func(text string)

type Options struct {
	Interval      time.Duration
	Assessor      Assessor
	Source        capture.Source
	Engine        *effects.Engine
	Store         storage.Store // optional persistence, best-effort
	SessionID     string
	SummaryKeep   int // summaries retained in memory
	SummarySend   int // summaries included per request
	HistoryCap    int // conversation turns retained in chat mode

	// Tokenizer 与 Compactor 用于对话模式的 token 预算控制；超出 TokenBudget
	// 时把较旧的回合折叠成一条摘要。三者都可为零值，表示不做压缩。
	// Tokenizer and Compactor enforce the chat-mode token budget. When the
	// buffered history exceeds TokenBudget, older turns are folded into one
	// summary message. All three are optional; zero values disable compaction.
	Tokenizer   *contextmgr.Tokenizer
	Compactor   contextmgr.CompactionStrategy
	TokenBudget int

	OnStateChange OnStateChange
	OnProgress    OnProgress
	OnNotice      OnNotice
}
