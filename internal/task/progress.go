package task

// Progress 任务进度状态：Index 在一次会话内单调不减，每次最多 +1。
// Progress tracks checklist position. Index is monotonically non-decreasing
// for the lifetime of one Progress value and only ever advances by one per
// accepted verdict. Index == len(List) is the terminal all-complete state.
type Progress struct {
	List         List
	Index        int
	LastGuidance string
}

// NewProgress 从清单创建进度 / NewProgress starts a fresh progress at index 0.
func NewProgress(list List) Progress {
	return Progress{List: list}
}

// Current 返回当前任务；终态时返回零值和 false。
// Current returns the active item, or ok=false at the terminal state.
func (p Progress) Current() (Item, bool) {
	if p.Index < 0 || p.Index >= len(p.List) {
		return Item{}, false
	}
	return p.List[p.Index], true
}

// Complete 是否全部完成 / Complete reports whether every item is done.
func (p Progress) Complete() bool {
	return p.Index >= len(p.List)
}

// Advance 前进一步，封顶在终态 / Advance moves forward one step, capped at terminal.
func (p Progress) Advance() Progress {
	if p.Index < len(p.List) {
		p.Index++
	}
	return p
}

// Apply 应用模型返回的 newIndex：只信任 [Index, Index+1] 区间，其余一律钳制。
// Apply accepts a model-reported index. Values outside [Index, Index+1] are
// untrusted and clamped: below stays put, above advances exactly one step.
func (p Progress) Apply(newIndex int) Progress {
	switch {
	case newIndex <= p.Index:
		return p
	default:
		return p.Advance()
	}
}

// EarnedValue 已完成任务的分值合计 / EarnedValue sums values of completed items.
func (p Progress) EarnedValue() int {
	total := 0
	for i := 0; i < p.Index && i < len(p.List); i++ {
		total += p.List[i].Value
	}
	return total
}
