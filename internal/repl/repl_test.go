package repl

import (
	"bytes"
	"strings"
	"testing"

	"instructor/internal/task"
	"instructor/internal/taskapi"
)

func newTestLoop() (*Loop, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Loop{out: &buf}, &buf
}

func TestRenderTurnMultipleChoice(t *testing.T) {
	l, buf := newTestLoop()
	list := l.renderTurn(taskapi.FeedbackResponse{
		Response:       "Which wall is the shelf going on?",
		MultipleChoice: []string{"Living room", "Bedroom"},
	})
	if list != nil {
		t.Fatalf("no final instruction yet, got list %+v", list)
	}
	out := buf.String()
	if !strings.Contains(out, "Which wall") {
		t.Fatalf("missing question: %q", out)
	}
	if !strings.Contains(out, "Living room") || !strings.Contains(out, "Bedroom") {
		t.Fatalf("missing options: %q", out)
	}
	if len(l.options) != 2 {
		t.Fatalf("options = %v", l.options)
	}
}

func TestRenderTurnFinalInstruction(t *testing.T) {
	l, buf := newTestLoop()
	list := l.renderTurn(taskapi.FeedbackResponse{
		Response:         "All set.",
		FinalInstruction: "Mount the shelf on the living room wall.",
		Subtasks: []task.Item{
			{Title: "Mark the holes", Description: "Mark drill points.", Value: 10},
			{Title: "Drill", Description: "Drill both holes.", Value: 20},
		},
	})
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if !strings.Contains(buf.String(), "Mark the holes") {
		t.Fatalf("checklist not printed: %q", buf.String())
	}
}

func TestConversePrintStatus(t *testing.T) {
	var buf bytes.Buffer
	c := &Converse{out: &buf}
	c.printStatus(task.Progress{
		List: task.List{
			{Title: "Mark the holes", Value: 10},
			{Title: "Drill", Value: 20},
		},
		Index: 1,
	})
	out := buf.String()
	if !strings.Contains(out, "✓ Mark the holes") {
		t.Fatalf("done marker missing: %q", out)
	}
	if !strings.Contains(out, "▶ Drill") {
		t.Fatalf("current marker missing: %q", out)
	}
	if !strings.Contains(out, "10 / 30 pts") {
		t.Fatalf("score line missing: %q", out)
	}
}

func TestPickOption(t *testing.T) {
	l, _ := newTestLoop()
	l.options = []string{"Living room", "Bedroom"}

	if picked, ok := l.pickOption("2"); !ok || picked != "Bedroom" {
		t.Fatalf("picked = %q, ok = %v", picked, ok)
	}
	if _, ok := l.pickOption("5"); ok {
		t.Fatal("out-of-range number must not pick")
	}
	if _, ok := l.pickOption("bedroom"); ok {
		t.Fatal("free text must not pick")
	}

	l.options = nil
	if _, ok := l.pickOption("1"); ok {
		t.Fatal("no options means no pick")
	}
}
