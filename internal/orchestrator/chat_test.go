package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"instructor/internal/assess"
	"instructor/internal/chat"
	"instructor/internal/contextmgr"
	"instructor/internal/task"
)

// recordingAssessor 同步评估器，记录收到的历史。
// recordingAssessor answers immediately and records the history it saw.
type recordingAssessor struct {
	verdict     assess.Verdict
	err         error
	lastHistory []chat.Message
}

func (r *recordingAssessor) AssessObservation(context.Context, task.Progress, string, []string) (assess.Verdict, error) {
	return r.verdict, r.err
}

func (r *recordingAssessor) AssessConversation(_ context.Context, _ task.Progress, history []chat.Message) (assess.Verdict, error) {
	r.lastHistory = append([]chat.Message(nil), history...)
	if r.err != nil {
		return assess.Verdict{}, r.err
	}
	return r.verdict, nil
}

func TestTurnSessionAppliesVerdict(t *testing.T) {
	ra := &recordingAssessor{verdict: assess.Verdict{NewIndex: 1, Guidance: "Nice!", ImageSummary: "s"}}
	s := NewTurnSession(twoStepList(), Options{Assessor: ra})

	v, err := s.HandleTurn(context.Background(), "I finished the first step", "")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if v.Guidance != "Nice!" {
		t.Fatalf("verdict = %+v", v)
	}
	if s.Progress().Index != 1 {
		t.Fatalf("index = %d", s.Progress().Index)
	}

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("history = %d turns", len(history))
	}
	if history[1].Role != "assistant" || history[1].Content != "Nice!" {
		t.Fatalf("assistant turn = %+v", history[1])
	}
}

func TestTurnSessionHistoryBounded(t *testing.T) {
	ra := &recordingAssessor{verdict: assess.Verdict{NewIndex: 0, ImageSummary: "s"}}
	s := NewTurnSession(twoStepList(), Options{Assessor: ra, HistoryCap: 4})

	for i := 0; i < 10; i++ {
		if _, err := s.HandleTurn(context.Background(), fmt.Sprintf("turn %d", i), ""); err != nil {
			t.Fatalf("HandleTurn %d: %v", i, err)
		}
	}
	if got := len(s.History()); got != 4 {
		t.Fatalf("history len = %d, want 4", got)
	}
	if got := len(ra.lastHistory); got > 4 {
		t.Fatalf("request history len = %d, want <= 4", got)
	}
}

func TestTurnSessionCompactsOverTokenBudget(t *testing.T) {
	ra := &recordingAssessor{verdict: assess.Verdict{NewIndex: 0, ImageSummary: "s"}}
	s := NewTurnSession(twoStepList(), Options{
		Assessor:    ra,
		HistoryCap:  10,
		Tokenizer:   contextmgr.NewTokenizer("cl100k_base"),
		Compactor:   &contextmgr.RegexCompaction{},
		TokenBudget: 10,
	})

	seed := make([]chat.Message, 0, 8)
	for i := 0; i < 8; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		seed = append(seed, chat.Text(role, fmt.Sprintf("step %d of assembling the shelf on the wall", i)))
	}
	s.RestoreHistory(seed)

	if _, err := s.HandleTurn(context.Background(), "what next?", ""); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	if len(ra.lastHistory) >= 9 {
		t.Fatalf("history not compacted: %d turns", len(ra.lastHistory))
	}
	if !strings.Contains(ra.lastHistory[0].Content, "[COMPACTION_SUMMARY]") {
		t.Fatalf("first turn is not the summary: %+v", ra.lastHistory[0])
	}
	// 尾部保留最新回合 / The newest turns survive verbatim.
	last := ra.lastHistory[len(ra.lastHistory)-1]
	if last.Content != "what next?" {
		t.Fatalf("last turn = %+v", last)
	}
}

func TestTurnSessionErrorKeepsProgress(t *testing.T) {
	ra := &recordingAssessor{err: errors.New("backend down")}
	s := NewTurnSession(twoStepList(), Options{Assessor: ra})

	if _, err := s.HandleTurn(context.Background(), "anything", ""); err == nil {
		t.Fatal("expected error")
	}
	if s.Progress().Index != 0 {
		t.Fatalf("index = %d", s.Progress().Index)
	}
	// 用户回合仍被记录 / The user's turn is still on the record.
	if got := len(s.History()); got != 1 {
		t.Fatalf("history len = %d", got)
	}
}

func TestTurnSessionObservationTurnCarriesImage(t *testing.T) {
	ra := &recordingAssessor{verdict: assess.Verdict{NewIndex: 0, ImageSummary: "s"}}
	s := NewTurnSession(twoStepList(), Options{Assessor: ra})

	if _, err := s.HandleTurn(context.Background(), "see photo", "data:image/jpeg;base64,AAAA"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(ra.lastHistory) != 1 || len(ra.lastHistory[0].MultiContent) != 2 {
		t.Fatalf("observation turn = %+v", ra.lastHistory)
	}
}
