package task

import "testing"

func sampleList() List {
	return List{
		{Title: "A", Description: "first", Value: 10},
		{Title: "B", Description: "second", Value: 20},
	}
}

func TestProgressAdvanceMonotonic(t *testing.T) {
	p := NewProgress(sampleList())
	if p.Index != 0 {
		t.Fatalf("fresh progress index = %d", p.Index)
	}
	p = p.Advance()
	if p.Index != 1 {
		t.Fatalf("after advance index = %d", p.Index)
	}
	p = p.Advance()
	if !p.Complete() {
		t.Fatalf("expected terminal state")
	}
	// Advancing past terminal stays at terminal.
	p = p.Advance()
	if p.Index != 2 {
		t.Fatalf("index moved past terminal: %d", p.Index)
	}
}

func TestProgressApplyClampsForwardJump(t *testing.T) {
	p := NewProgress(sampleList())
	p = p.Apply(5)
	if p.Index != 1 {
		t.Fatalf("forward jump not clamped to +1, index = %d", p.Index)
	}
}

func TestProgressApplyNeverDecreases(t *testing.T) {
	p := NewProgress(sampleList()).Advance()
	p = p.Apply(0)
	if p.Index != 1 {
		t.Fatalf("index decreased: %d", p.Index)
	}
	p = p.Apply(-3)
	if p.Index != 1 {
		t.Fatalf("negative index accepted: %d", p.Index)
	}
}

func TestProgressCurrent(t *testing.T) {
	p := NewProgress(sampleList())
	item, ok := p.Current()
	if !ok || item.Title != "A" {
		t.Fatalf("unexpected current: %+v ok=%v", item, ok)
	}
	p = p.Advance().Advance()
	if _, ok := p.Current(); ok {
		t.Fatalf("terminal state still reports a current item")
	}
}

func TestProgressEarnedValue(t *testing.T) {
	p := NewProgress(sampleList()).Advance()
	if got := p.EarnedValue(); got != 10 {
		t.Fatalf("earned = %d", got)
	}
	if got := p.List.TotalValue(); got != 30 {
		t.Fatalf("total = %d", got)
	}
}

func TestNormalizeDropsEmptyTitles(t *testing.T) {
	list := Normalize([]Item{
		{Title: "  keep  ", Description: " d "},
		{Title: "   "},
		{Title: ""},
	})
	if len(list) != 1 || list[0].Title != "keep" || list[0].Description != "d" {
		t.Fatalf("unexpected normalize result: %+v", list)
	}
}
