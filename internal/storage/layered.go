package storage

import (
	"errors"
	"fmt"
)

// Layered 分层交接存储：读取时首个非空层获胜，写入时逐层落盘。
// Layered chains handoff tiers. Reads walk the chain and the first tier
// holding a payload wins. Writes go through every tier; the write fails only
// when every tier rejects it, matching the fall-through recovery policy.
type Layered struct {
	tiers []HandoffStore
}

// NewLayered 创建分层链，nil 层被忽略 / NewLayered builds the chain, skipping nil tiers.
func NewLayered(tiers ...HandoffStore) *Layered {
	kept := make([]HandoffStore, 0, len(tiers))
	for _, t := range tiers {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &Layered{tiers: kept}
}

// SaveHandoff 写穿所有层；只有全部失败才算失败。
// SaveHandoff writes through all tiers and only reports failure when no tier
// accepted the payload.
func (l *Layered) SaveHandoff(h Handoff) error {
	if len(l.tiers) == 0 {
		return fmt.Errorf("no handoff storage tiers configured")
	}
	var errs []error
	for _, t := range l.tiers {
		if err := t.SaveHandoff(h); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(l.tiers) {
		return fmt.Errorf("all handoff tiers failed: %w", errors.Join(errs...))
	}
	return nil
}

// LoadHandoff 按序读取，首个命中层获胜；单层错误视为未命中继续下探。
// LoadHandoff walks the chain in order. A tier error counts as a miss and the
// walk continues, so one corrupted tier never hides a healthy one below it.
func (l *Layered) LoadHandoff() (Handoff, bool, error) {
	var lastErr error
	for _, t := range l.tiers {
		h, ok, err := t.LoadHandoff()
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return h, true, nil
		}
	}
	return Handoff{}, false, lastErr
}

// ClearHandoff 尽力清除所有层 / ClearHandoff clears every tier best-effort.
func (l *Layered) ClearHandoff() error {
	var errs []error
	for _, t := range l.tiers {
		if err := t.ClearHandoff(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
