package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"instructor/internal/orchestrator"
	"instructor/internal/task"
)

type fakeController struct {
	state   orchestrator.State
	paused  int
	resumed int
}

func (f *fakeController) Pause() {
	f.paused++
	f.state = orchestrator.StatePaused
}

func (f *fakeController) Resume(context.Context) error {
	f.resumed++
	f.state = orchestrator.StateIdle
	return nil
}

func (f *fakeController) State() orchestrator.State { return f.state }

func testList() task.List {
	return task.List{
		{Title: "A", Description: "first", Value: 10},
		{Title: "B", Description: "second", Value: 20},
	}
}

func TestAppUpdate_PauseResumeToggle(t *testing.T) {
	ctrl := &fakeController{state: orchestrator.StateIdle}
	app := NewApp(testList(), ctrl, "m", "s1")
	app.width, app.height = 100, 30
	app.relayout()

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	updated := m.(App)
	if ctrl.paused != 1 {
		t.Fatalf("paused = %d", ctrl.paused)
	}

	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	if ctrl.resumed != 1 {
		t.Fatalf("resumed = %d", ctrl.resumed)
	}
	_ = m
}

func TestAppUpdate_ProgressAndCelebration(t *testing.T) {
	app := NewApp(testList(), &fakeController{}, "m", "s1")
	app.width, app.height = 100, 30
	app.relayout()

	m, _ := app.Update(ProgressMsg{Progress: task.NewProgress(testList()).Advance()})
	updated := m.(App)
	if updated.progress.Index != 1 {
		t.Fatalf("index = %d", updated.progress.Index)
	}

	m, cmd := updated.Update(CelebrateMsg{CompletedIndex: 0})
	updated = m.(App)
	if !strings.Contains(updated.celebration, "A") {
		t.Fatalf("celebration = %q", updated.celebration)
	}
	if cmd == nil {
		t.Fatal("expected a clear-banner tick command")
	}

	m, _ = updated.Update(clearCelebrationMsg{})
	updated = m.(App)
	if updated.celebration != "" {
		t.Fatalf("banner not cleared: %q", updated.celebration)
	}
}

func TestAppUpdate_GuidanceAndNotice(t *testing.T) {
	app := NewApp(testList(), &fakeController{}, "m", "s1")
	app.width, app.height = 100, 30
	app.relayout()

	m, _ := app.Update(GuidanceMsg{Text: "turn the screw clockwise"})
	updated := m.(App)
	if !strings.Contains(updated.feedContent.String(), "turn the screw") {
		t.Fatalf("feed = %q", updated.feedContent.String())
	}

	m, _ = updated.Update(NoticeMsg{Text: "capture disabled"})
	updated = m.(App)
	if updated.lastNotice != "capture disabled" {
		t.Fatalf("notice = %q", updated.lastNotice)
	}
}

func TestAppUpdate_StateMsg(t *testing.T) {
	app := NewApp(testList(), &fakeController{}, "m", "s1")
	m, _ := app.Update(StateMsg{State: orchestrator.StateAssessing})
	updated := m.(App)
	if updated.loopState != orchestrator.StateAssessing {
		t.Fatalf("state = %q", updated.loopState)
	}
}
