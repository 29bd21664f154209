package storage

import (
	"strings"
	"testing"

	"instructor/internal/chat"
	"instructor/internal/task"
)

func TestManagerSessionRoundTrip(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	id := NewSessionID()
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("session id = %q", id)
	}
	if err := m.CreateSession(SessionMeta{ID: id, Title: "repot"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	messages := []chat.Message{
		chat.Text("user", "help me repot this plant"),
		chat.UserObservation("data:image/jpeg;base64,BBBB", "pot on table"),
	}
	if err := m.SaveMessages(id, messages); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	loaded, err := m.LoadMessages(id)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(loaded) != 2 || len(loaded[1].MultiContent) != 2 {
		t.Fatalf("loaded = %+v", loaded)
	}

	snap := ProgressSnapshot{TaskList: task.List{{Title: "A"}}, CurrentIndex: 1}
	if err := m.SaveProgress(id, snap); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	got, err := m.LoadProgress(id)
	if err != nil || got.CurrentIndex != 1 {
		t.Fatalf("LoadProgress: %+v err=%v", got, err)
	}

	metas, err := m.ListSessions()
	if err != nil || len(metas) != 1 {
		t.Fatalf("ListSessions: %v err=%v", metas, err)
	}
}

func TestManagerHandoffTier(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, ok, _ := m.LoadHandoff(); ok {
		t.Fatal("fresh manager should hold no handoff")
	}
	if err := m.SaveHandoff(Handoff{Name: "walk", LocationName: "park"}); err != nil {
		t.Fatalf("SaveHandoff: %v", err)
	}
	h, ok, err := m.LoadHandoff()
	if err != nil || !ok || h.LocationName != "park" {
		t.Fatalf("LoadHandoff: %+v ok=%v err=%v", h, ok, err)
	}
	if err := m.ClearHandoff(); err != nil {
		t.Fatalf("ClearHandoff: %v", err)
	}
	if _, ok, _ := m.LoadHandoff(); ok {
		t.Fatal("handoff should be cleared")
	}
	// 重复清除不报错 / Clearing twice is fine.
	if err := m.ClearHandoff(); err != nil {
		t.Fatalf("second ClearHandoff: %v", err)
	}
}

func TestMigrateFromJSON(t *testing.T) {
	jsonDir := t.TempDir()
	m, err := NewManager(jsonDir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.CreateSession(SessionMeta{ID: "sess_old", Title: "legacy"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.SaveMessages("sess_old", []chat.Message{chat.Text("user", "hi")}); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	if err := m.SaveProgress("sess_old", ProgressSnapshot{CurrentIndex: 1}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	store := newTestSQLite(t)
	migrated, err := MigrateFromJSON(jsonDir, store)
	if err != nil {
		t.Fatalf("MigrateFromJSON: %v", err)
	}
	if migrated != 1 {
		t.Fatalf("migrated = %d", migrated)
	}
	meta, err := store.LoadSession("sess_old")
	if err != nil || meta.Title != "legacy" {
		t.Fatalf("migrated meta = %+v err=%v", meta, err)
	}
	snap, err := store.LoadProgress("sess_old")
	if err != nil || snap.CurrentIndex != 1 {
		t.Fatalf("migrated progress = %+v err=%v", snap, err)
	}

	// 再跑一次不重复迁移 / Second run is a no-op.
	again, err := MigrateFromJSON(jsonDir, store)
	if err != nil || again != 0 {
		t.Fatalf("second migrate = %d err=%v", again, err)
	}
}

func TestInferTitle(t *testing.T) {
	title := InferTitle([]chat.Message{
		chat.Text("assistant", "hello"),
		chat.Text("user", "teach me how to make espresso"),
	})
	if title != "teach me how to make espresso" {
		t.Fatalf("title = %q", title)
	}
	if got := InferTitle(nil); got != "new session" {
		t.Fatalf("empty title = %q", got)
	}
}
