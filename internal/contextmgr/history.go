package contextmgr

import (
	"strings"

	"instructor/internal/chat"
)

// TurnBuffer 容量受限的对话历史，先进先出，满了从头部淘汰。
// TurnBuffer is a capacity-bounded conversation history. Oldest turns are
// evicted from the front; capacity is at least 1, enforced at construction.
// Append is copy-on-write so callers can hold old snapshots safely.
type TurnBuffer struct {
	capacity int
	turns    []chat.Message
}

// NewTurnBuffer 创建历史缓冲；capacity < 1 时取 1。
// NewTurnBuffer creates a buffer; capacity below 1 is raised to 1.
func NewTurnBuffer(capacity int) TurnBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return TurnBuffer{capacity: capacity}
}

// Append 追加一条消息并按容量截断 / Append adds a turn, truncating from the front.
func (b TurnBuffer) Append(msg chat.Message) TurnBuffer {
	turns := make([]chat.Message, 0, len(b.turns)+1)
	turns = append(turns, b.turns...)
	turns = append(turns, msg)
	if len(turns) > b.capacity {
		turns = turns[len(turns)-b.capacity:]
	}
	return TurnBuffer{capacity: b.capacity, turns: turns}
}

// Turns 返回当前历史的副本 / Turns returns a copy of the buffered turns.
func (b TurnBuffer) Turns() []chat.Message {
	return append([]chat.Message(nil), b.turns...)
}

// Len 当前条数 / Len is the number of buffered turns.
func (b TurnBuffer) Len() int { return len(b.turns) }

// Capacity 容量 / Capacity is the configured bound.
func (b TurnBuffer) Capacity() int { return b.capacity }

// SummaryLog 观察摘要日志：保留最近 keep 条，发送时取最近 Recent(n) 条。
// SummaryLog holds recent observation summaries. It keeps the newest `keep`
// entries in memory and exposes the newest n for request assembly.
type SummaryLog struct {
	keep    int
	entries []string
}

// NewSummaryLog 创建摘要日志；keep < 1 时取 1。
// NewSummaryLog creates a log; keep below 1 is raised to 1.
func NewSummaryLog(keep int) SummaryLog {
	if keep < 1 {
		keep = 1
	}
	return SummaryLog{keep: keep}
}

// Append 追加摘要，空白摘要忽略 / Append records a summary; blank input is ignored.
func (l SummaryLog) Append(summary string) SummaryLog {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return l
	}
	entries := make([]string, 0, len(l.entries)+1)
	entries = append(entries, l.entries...)
	entries = append(entries, summary)
	if len(entries) > l.keep {
		entries = entries[len(entries)-l.keep:]
	}
	return SummaryLog{keep: l.keep, entries: entries}
}

// Recent 返回最近 n 条（从旧到新） / Recent returns up to n newest entries, oldest first.
func (l SummaryLog) Recent(n int) []string {
	if n <= 0 || len(l.entries) == 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	return append([]string(nil), l.entries[len(l.entries)-n:]...)
}

// Len 当前条数 / Len is the number of stored summaries.
func (l SummaryLog) Len() int { return len(l.entries) }
