package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"instructor/internal/assess"
	"instructor/internal/chat"
	"instructor/internal/contextmgr"
	"instructor/internal/effects"
	"instructor/internal/storage"
	"instructor/internal/task"
)

// TurnSession 对话式评估：用户主动提交回合，而不是定时采样。
// TurnSession is the conversational assessment mode. The user submits turns
// explicitly; there is no timer. History is bounded and shared with the
// assessment request verbatim.
type TurnSession struct {
	mu          sync.Mutex
	buffer      contextmgr.TurnBuffer
	progress    task.Progress
	assessor    Assessor
	engine      *effects.Engine
	store       storage.Store
	sessionID   string
	tokenizer   *contextmgr.Tokenizer
	compactor   contextmgr.CompactionStrategy
	tokenBudget int
	inFlight    bool
}

// NewTurnSession 创建对话会话 / NewTurnSession creates a conversational session.
func NewTurnSession(list task.List, opts Options) *TurnSession {
	historyCap := opts.HistoryCap
	if historyCap <= 0 {
		historyCap = 10
	}
	return &TurnSession{
		buffer:      contextmgr.NewTurnBuffer(historyCap),
		progress:    task.NewProgress(list),
		assessor:    opts.Assessor,
		engine:      opts.Engine,
		store:       opts.Store,
		sessionID:   opts.SessionID,
		tokenizer:   opts.Tokenizer,
		compactor:   opts.Compactor,
		tokenBudget: opts.TokenBudget,
	}
}

// Progress 当前进度快照 / Progress returns a snapshot of the checklist position.
func (s *TurnSession) Progress() task.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// History 当前对话历史 / History returns the buffered turns.
func (s *TurnSession) History() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Turns()
}

// RestoreProgress 从快照恢复清单位置 / RestoreProgress seeds progress from a snapshot.
func (s *TurnSession) RestoreProgress(snap storage.ProgressSnapshot) {
	if len(snap.TaskList) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = task.Progress{
		List:         snap.TaskList,
		Index:        snap.CurrentIndex,
		LastGuidance: snap.LastGuidance,
	}
}

// RestoreHistory 从持久化恢复历史 / RestoreHistory seeds turns from storage.
func (s *TurnSession) RestoreHistory(messages []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range messages {
		s.buffer = s.buffer.Append(msg)
	}
}

// HandleTurn 处理一个用户回合：入史、评估、应用判定。
// HandleTurn processes one user turn: record it, assess the conversation,
// apply the verdict. A second call while one is in flight is rejected so the
// single-flight property holds in chat mode too. On assessment failure the
// user turn stays recorded but progress is untouched.
func (s *TurnSession) HandleTurn(ctx context.Context, text, imageDataURL string) (assess.Verdict, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return assess.Verdict{}, fmt.Errorf("a turn is already being assessed")
	}
	s.inFlight = true

	var userTurn chat.Message
	if imageDataURL != "" {
		userTurn = chat.UserObservation(imageDataURL, text)
	} else {
		userTurn = chat.Text("user", text)
	}
	s.buffer = s.buffer.Append(userTurn)
	progress := s.progress
	history := s.buffer.Turns()
	capacity := s.buffer.Capacity()
	s.mu.Unlock()

	// inFlight 已置位，压缩可以在锁外进行 / inFlight is set, so compacting
	// outside the lock cannot race with another turn.
	if compacted, ok := s.compact(ctx, history, capacity/2); ok {
		history = compacted
		s.mu.Lock()
		buf := contextmgr.NewTurnBuffer(capacity)
		for _, msg := range compacted {
			buf = buf.Append(msg)
		}
		s.buffer = buf
		s.mu.Unlock()
	}

	verdict, err := s.assessor.AssessConversation(ctx, progress, history)

	s.mu.Lock()
	s.inFlight = false
	if err != nil {
		s.mu.Unlock()
		return assess.Verdict{}, err
	}

	prev := s.progress.Index
	s.progress = s.progress.Apply(verdict.NewIndex)
	if verdict.Guidance != "" {
		s.progress.LastGuidance = verdict.Guidance
		s.buffer = s.buffer.Append(chat.Text("assistant", verdict.Guidance))
	}
	progress = s.progress
	history = s.buffer.Turns()
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.Apply(prev, progress.Index, verdict.Guidance)
	}
	s.persist(progress, history)
	return verdict, nil
}

// compact 历史超出 token 预算时折叠旧回合。
// compact folds older turns into a summary when the history exceeds the
// configured token budget. Returns false when compaction is disabled, the
// budget holds, or no summary could be produced.
func (s *TurnSession) compact(ctx context.Context, history []chat.Message, keep int) ([]chat.Message, bool) {
	if s.tokenizer == nil || s.tokenBudget <= 0 {
		return nil, false
	}
	if s.tokenizer.Count(history) <= s.tokenBudget {
		return nil, false
	}
	compacted, _, changed := contextmgr.CompactWithStrategy(ctx, history, keep, s.compactor)
	if !changed {
		return nil, false
	}
	return compacted, true
}

func (s *TurnSession) persist(progress task.Progress, history []chat.Message) {
	if s.store == nil || s.sessionID == "" {
		return
	}
	snap := storage.ProgressSnapshot{
		TaskList:     progress.List,
		CurrentIndex: progress.Index,
		LastGuidance: progress.LastGuidance,
	}
	_ = s.store.SaveProgress(s.sessionID, snap)
	_ = s.store.SaveMessages(s.sessionID, history)
}
