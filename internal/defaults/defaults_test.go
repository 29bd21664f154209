package defaults

import "testing"

func TestDefaultPrompts(t *testing.T) {
	if DefaultAssessmentPrompt == "" {
		t.Fatal("DefaultAssessmentPrompt must be non-empty")
	}
	if DefaultConversationPrompt == "" {
		t.Fatal("DefaultConversationPrompt must be non-empty")
	}
}

func TestDefaultTasks(t *testing.T) {
	list := DefaultTasks()
	if len(list) == 0 {
		t.Fatal("built-in checklist must not be empty")
	}
	for i, item := range list {
		if item.Title == "" || item.Description == "" {
			t.Fatalf("item %d incomplete: %+v", i, item)
		}
	}
}
