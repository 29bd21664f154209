package effects

import (
	"strings"
	"sync"
)

// Hooks 前端挂载的效果回调；nil 回调直接跳过。
// Hooks are the front-end effect callbacks. Nil callbacks are skipped.
type Hooks struct {
	// OnCelebrate 任务推进时的庆祝效果 / Fired when the checklist advances.
	OnCelebrate func(completedIndex int)

	// OnGuidance 有话要说时追加到反馈流 / Fired with non-empty guidance text.
	OnGuidance func(text string)
}

// Engine 副作用触发引擎：消费每轮评估的 (prevIndex, newIndex, guidance)。
// Engine consumes the (previousIndex, newIndex, guidance) triple of one
// completed loop iteration. The celebration bundle fires exactly once per
// index advance; repeated polling of an already-advanced state stays silent.
// Guidance filtering is purely null/empty/sentinel; the assessor is
// responsible for not repeating itself.
type Engine struct {
	mu             sync.Mutex
	hooks          Hooks
	narrator       Narrator
	lastCelebrated int
}

// NewEngine 创建引擎；narrator 可为 nil 表示无旁白能力。
// NewEngine creates an engine. A nil narrator means narration is unavailable
// and is silently skipped.
func NewEngine(hooks Hooks, narrator Narrator) *Engine {
	return &Engine{
		hooks:          hooks,
		narrator:       narrator,
		lastCelebrated: -1,
	}
}

// Apply 处理一轮评估结果 / Apply handles one iteration's outcome.
func (e *Engine) Apply(previousIndex, newIndex int, guidance string) {
	e.mu.Lock()
	celebrate := newIndex > previousIndex && newIndex > e.lastCelebrated
	if celebrate {
		e.lastCelebrated = newIndex
	}
	hooks := e.hooks
	narrator := e.narrator
	e.mu.Unlock()

	if celebrate && hooks.OnCelebrate != nil {
		hooks.OnCelebrate(newIndex - 1)
	}

	guidance = normalizeGuidance(guidance)
	if guidance == "" {
		return
	}
	if hooks.OnGuidance != nil {
		hooks.OnGuidance(guidance)
	}
	if narrator != nil {
		// 旁白永不阻塞循环 / Narration never blocks the loop.
		narrator.Speak(guidance)
	}
}

// normalizeGuidance 过滤空白与 "null" 哨兵值
// normalizeGuidance filters blank text and the literal "null" sentinel.
func normalizeGuidance(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
		return ""
	}
	return s
}
