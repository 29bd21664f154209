package storage

import "instructor/internal/chat"

// Store 持久化接口，支持多后端 (SQLite / JSON)
// Store is the persistence interface supporting multiple backends
type Store interface {
	// Session 操作 / Session operations
	CreateSession(meta SessionMeta) error
	SaveSession(meta SessionMeta) error
	LoadSession(id string) (SessionMeta, error)
	ListSessions() ([]SessionMeta, error)

	// Message 操作 / Message operations
	SaveMessages(sessionID string, messages []chat.Message) error
	LoadMessages(sessionID string) ([]chat.Message, error)

	// 进度快照 / Progress snapshot
	SaveProgress(sessionID string, snap ProgressSnapshot) error
	LoadProgress(sessionID string) (ProgressSnapshot, error)

	// 观察摘要 / Observation summaries
	SaveSummaries(sessionID string, summaries []string) error
	LoadSummaries(sessionID string) ([]string, error)

	// 生命周期 / Lifecycle
	Close() error
}

// HandoffStore 交接数据的单层存储
// HandoffStore is one tier of the layered handoff chain
type HandoffStore interface {
	// SaveHandoff 写入交接数据 / SaveHandoff writes the handoff payload.
	SaveHandoff(h Handoff) error

	// LoadHandoff 读取交接数据；ok=false 表示本层没有。
	// LoadHandoff reads the payload; ok=false means this tier holds nothing.
	LoadHandoff() (h Handoff, ok bool, err error)

	// ClearHandoff 清除交接数据 / ClearHandoff removes the payload.
	ClearHandoff() error
}
