package storage

import "sync"

// MemorySlot 交接链的最后一层：进程内单槽位，永不失败。
// MemorySlot is the last-resort handoff tier. It lives in process memory,
// never fails, and loses its contents when the process exits.
type MemorySlot struct {
	mu  sync.Mutex
	h   Handoff
	set bool
}

// NewMemorySlot 创建内存槽位 / NewMemorySlot creates an empty in-memory slot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (m *MemorySlot) SaveHandoff(h Handoff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h = h
	m.set = true
	return nil
}

func (m *MemorySlot) LoadHandoff() (Handoff, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set || m.h.Empty() {
		return Handoff{}, false, nil
	}
	return m.h, true, nil
}

func (m *MemorySlot) ClearHandoff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h = Handoff{}
	m.set = false
	return nil
}
