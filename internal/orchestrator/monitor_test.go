package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"instructor/internal/assess"
	"instructor/internal/capture"
	"instructor/internal/chat"
	"instructor/internal/effects"
	"instructor/internal/storage"
	"instructor/internal/task"
)

// fakeAssessor 可控阻塞的评估器 / fakeAssessor blocks until released.
type fakeAssessor struct {
	calls   int32
	verdict assess.Verdict
	err     error
	started chan struct{} // closed-ish: one token per call
	release chan struct{}
}

func newFakeAssessor(verdict assess.Verdict) *fakeAssessor {
	return &fakeAssessor{
		verdict: verdict,
		started: make(chan struct{}, 16),
		release: make(chan struct{}, 16),
	}
}

func (f *fakeAssessor) AssessObservation(ctx context.Context, _ task.Progress, _ string, _ []string) (assess.Verdict, error) {
	atomic.AddInt32(&f.calls, 1)
	f.started <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
		return assess.Verdict{}, ctx.Err()
	}
	if f.err != nil {
		return assess.Verdict{}, f.err
	}
	return f.verdict, nil
}

func (f *fakeAssessor) AssessConversation(ctx context.Context, p task.Progress, _ []chat.Message) (assess.Verdict, error) {
	return f.AssessObservation(ctx, p, "", nil)
}

func (f *fakeAssessor) callCount() int32 { return atomic.LoadInt32(&f.calls) }

// stubSource 永远可用的采集源 / stubSource always serves a frame.
type stubSource struct {
	released int32
}

func (s *stubSource) Acquire(context.Context) error { return nil }
func (s *stubSource) Capture(context.Context) (capture.Frame, error) {
	return capture.Frame{DataURL: "data:image/jpeg;base64,AAAA", MIME: "image/jpeg"}, nil
}
func (s *stubSource) Release() error {
	atomic.AddInt32(&s.released, 1)
	return nil
}
func (s *stubSource) Name() string { return "stub" }

func twoStepList() task.List {
	return task.List{
		{Title: "A", Description: "first", Value: 10},
		{Title: "B", Description: "second", Value: 20},
	}
}

func startedMonitor(t *testing.T, fa *fakeAssessor, src capture.Source, opts Options) *Monitor {
	t.Helper()
	opts.Assessor = fa
	opts.Source = src
	m := NewMonitor(twoStepList(), opts)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestTickSingleFlight(t *testing.T) {
	fa := newFakeAssessor(assess.Verdict{NewIndex: 0, ImageSummary: "s"})
	m := startedMonitor(t, fa, &stubSource{}, Options{})

	ctx := context.Background()
	m.Tick(ctx)
	<-fa.started

	// 评估在途时的 tick 全部是 no-op / Ticks during the in-flight round are no-ops.
	for i := 0; i < 5; i++ {
		m.Tick(ctx)
	}
	if got := fa.callCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}

	fa.release <- struct{}{}
	waitFor(t, func() bool { return m.State() == StateIdle }, "monitor did not return to Idle")

	// 回到 Idle 后新 tick 才会再评估 / Only after Idle does a new tick assess.
	m.Tick(ctx)
	<-fa.started
	fa.release <- struct{}{}
	waitFor(t, func() bool { return fa.callCount() == 2 && m.State() == StateIdle }, "second round did not run")
}

func TestVerdictAdvancesAndCelebratesOnce(t *testing.T) {
	var celebrations, messages []string
	engine := effects.NewEngine(effects.Hooks{
		OnCelebrate: func(int) { celebrations = append(celebrations, "party") },
		OnGuidance:  func(s string) { messages = append(messages, s) },
	}, nil)

	fa := newFakeAssessor(assess.Verdict{NewIndex: 1, Guidance: "Nice!", ImageSummary: "done A"})
	m := startedMonitor(t, fa, &stubSource{}, Options{Engine: engine})

	m.Tick(context.Background())
	<-fa.started
	fa.release <- struct{}{}
	waitFor(t, func() bool { return m.Progress().Index == 1 }, "index did not advance")

	if len(celebrations) != 1 {
		t.Fatalf("celebrations = %v", celebrations)
	}
	if len(messages) != 1 || messages[0] != "Nice!" {
		t.Fatalf("messages = %v", messages)
	}
}

func TestForwardJumpClamped(t *testing.T) {
	fa := newFakeAssessor(assess.Verdict{NewIndex: 5, ImageSummary: "s"})
	m := startedMonitor(t, fa, &stubSource{}, Options{})

	m.Tick(context.Background())
	<-fa.started
	fa.release <- struct{}{}
	waitFor(t, func() bool { return m.State() == StateIdle }, "round did not finish")

	if got := m.Progress().Index; got != 1 {
		t.Fatalf("index = %d, want clamp to 1", got)
	}
}

func TestCompletionStopsAssessing(t *testing.T) {
	fa := newFakeAssessor(assess.Verdict{NewIndex: 2, ImageSummary: "s"})
	m := startedMonitor(t, fa, &stubSource{}, Options{})
	m.RestoreProgress(storage.ProgressSnapshot{TaskList: twoStepList(), CurrentIndex: 1}, nil)

	ctx := context.Background()
	m.Tick(ctx)
	<-fa.started
	fa.release <- struct{}{}
	waitFor(t, func() bool { return m.Progress().Complete() }, "terminal state not reached")

	// 完成后 tick 不再发起评估 / Ticks after completion start nothing.
	m.Tick(ctx)
	m.Tick(ctx)
	time.Sleep(20 * time.Millisecond)
	if got := fa.callCount(); got != 1 {
		t.Fatalf("calls after completion = %d, want 1", got)
	}
}

func TestPauseDiscardsLateVerdict(t *testing.T) {
	fa := newFakeAssessor(assess.Verdict{NewIndex: 1, Guidance: "late", ImageSummary: "s"})
	src := &stubSource{}
	m := startedMonitor(t, fa, src, Options{})

	m.Tick(context.Background())
	<-fa.started

	m.Pause()
	if got := atomic.LoadInt32(&src.released); got != 1 {
		t.Fatalf("pause should release the device, released = %d", got)
	}

	// 迟到的响应被丢弃 / The late verdict must not move progress.
	fa.release <- struct{}{}
	time.Sleep(30 * time.Millisecond)
	if got := m.Progress().Index; got != 0 {
		t.Fatalf("late verdict applied: index = %d", got)
	}
	if m.State() != StatePaused {
		t.Fatalf("state = %q", m.State())
	}

	// 恢复后照常工作 / Resume works normally.
	if err := m.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state after resume = %q", m.State())
	}
}

func TestAssessmentErrorLeavesProgressUnchanged(t *testing.T) {
	fa := newFakeAssessor(assess.Verdict{})
	fa.err = errors.New("inference overloaded")
	var notices []string
	m := startedMonitor(t, fa, &stubSource{}, Options{
		OnNotice: func(s string) { notices = append(notices, s) },
	})

	m.Tick(context.Background())
	<-fa.started
	fa.release <- struct{}{}
	waitFor(t, func() bool { return m.State() == StateIdle }, "loop did not recover to Idle")

	if got := m.Progress().Index; got != 0 {
		t.Fatalf("index = %d, want 0", got)
	}
	if len(notices) == 0 {
		t.Fatal("failure should surface a notice")
	}
}

func TestDeviceUnavailableParksLoop(t *testing.T) {
	fa := newFakeAssessor(assess.Verdict{})
	m := startedMonitor(t, fa, &stubSource{}, Options{})

	// 换到坏设备后 tick 采样失败 / Swap in a broken device.
	broken := &brokenSource{}
	if err := m.SwitchSource(context.Background(), broken); !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("SwitchSource err = %v", err)
	}
	if m.State() == StateStopped {
		t.Fatal("device failure must not stop the session")
	}
	// 没有任何评估被发起 / No assessment was ever started.
	if fa.callCount() != 0 {
		t.Fatalf("calls = %d", fa.callCount())
	}
}

type brokenSource struct{}

func (brokenSource) Acquire(context.Context) error { return capture.ErrDeviceUnavailable }
func (brokenSource) Capture(context.Context) (capture.Frame, error) {
	return capture.Frame{}, capture.ErrDeviceUnavailable
}
func (brokenSource) Release() error { return nil }
func (brokenSource) Name() string   { return "broken" }
