package storage

import "instructor/internal/task"

// Handoff 上游界面写入、会话启动时读取的一次性交接数据。
// Handoff is the small payload the upstream screen writes right before
// navigation. It is read at most once by the session bootstrap; repeated
// reads are tolerated but must never re-trigger the one-time request.
type Handoff struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	LocationName   string `json:"locationName"`
	InitialRequest string `json:"initialRequest"`
}

// Empty 交接数据是否为空 / Empty reports whether every field is blank.
func (h Handoff) Empty() bool {
	return h.Name == "" && h.Description == "" && h.LocationName == "" && h.InitialRequest == ""
}

// SessionMeta 会话元数据
// SessionMeta holds session metadata
type SessionMeta struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Model        string `json:"model"`
	TaskID       string `json:"task_id"`
	Summary      string `json:"summary"`
	Bootstrapped bool   `json:"bootstrapped"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// ProgressSnapshot 进度快照，跨进程恢复用。
// ProgressSnapshot is the persisted checklist position for session resume.
type ProgressSnapshot struct {
	TaskList     task.List `json:"taskList"`
	CurrentIndex int       `json:"currentIndex"`
	LastGuidance string    `json:"lastGuidance"`
}
