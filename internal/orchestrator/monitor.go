package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"instructor/internal/capture"
	"instructor/internal/contextmgr"
	"instructor/internal/effects"
	"instructor/internal/storage"
	"instructor/internal/task"
)

// Monitor 持续监控循环：定时采样、评估、推进清单。
// Monitor runs the continuous capture-and-assess loop. The central property
// is single-flight: a tick that fires while the machine is not Idle is a
// no-op, so at most one assessment is ever in flight. Verdicts that arrive
// after a pause, stop, or source switch carry a stale generation and are
// discarded without touching progress.
type Monitor struct {
	mu         sync.Mutex
	state      State
	generation uint64
	progress   task.Progress
	summaries  contextmgr.SummaryLog

	interval    time.Duration
	assessor    Assessor
	sw          *capture.Switch
	source      capture.Source
	engine      *effects.Engine
	store       storage.Store
	sessionID   string
	summarySend int

	onStateChange OnStateChange
	onProgress    OnProgress
	onNotice      OnNotice

	cancelFlight context.CancelFunc
}

// NewMonitor 创建监控循环 / NewMonitor creates a monitor from options.
func NewMonitor(list task.List, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.SummaryKeep <= 0 {
		opts.SummaryKeep = 30
	}
	if opts.SummarySend <= 0 {
		opts.SummarySend = 15
	}
	m := &Monitor{
		state:         StatePaused,
		progress:      task.NewProgress(list),
		summaries:     contextmgr.NewSummaryLog(opts.SummaryKeep),
		interval:      opts.Interval,
		assessor:      opts.Assessor,
		sw:            capture.NewSwitch(),
		source:        opts.Source,
		engine:        opts.Engine,
		store:         opts.Store,
		sessionID:     opts.SessionID,
		summarySend:   opts.SummarySend,
		onStateChange: opts.OnStateChange,
		onProgress:    opts.OnProgress,
		onNotice:      opts.OnNotice,
	}
	return m
}

// Progress 当前进度的快照 / Progress returns a snapshot of the checklist position.
func (m *Monitor) Progress() task.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// State 当前状态 / State returns the machine state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RestoreProgress 从快照恢复进度（会话续跑）。
// RestoreProgress seeds progress and summaries from a persisted snapshot.
func (m *Monitor) RestoreProgress(snap storage.ProgressSnapshot, summaries []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(snap.TaskList) > 0 {
		m.progress = task.Progress{
			List:         snap.TaskList,
			Index:        snap.CurrentIndex,
			LastGuidance: snap.LastGuidance,
		}
	}
	for _, s := range summaries {
		m.summaries = m.summaries.Append(s)
	}
}

// Start 获取采集设备并进入 Idle；设备不可用时保持 Paused 并通知。
// Start acquires the capture device and enters Idle. On DeviceUnavailable
// the monitor stays Paused and surfaces a persistent notice; it does not
// retry on its own.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.sw.Activate(ctx, m.source); err != nil {
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			m.notice(fmt.Sprintf("capture disabled: %v", err))
		}
		return err
	}
	m.setState(StateIdle)
	return nil
}

// Run 驱动定时循环直到 ctx 取消 / Run drives the ticker until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick 一次定时触发。机器不在 Idle 时是显式 no-op：不排队、不合并。
// Tick is one timer firing. When the machine is not Idle this is an explicit
// no-op; ticks are never queued or coalesced into a second assessment.
func (m *Monitor) Tick(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateIdle || m.progress.Complete() {
		m.mu.Unlock()
		return
	}
	m.state = StateCapturing
	gen := m.generation
	flightCtx, cancel := context.WithCancel(ctx)
	m.cancelFlight = cancel
	m.mu.Unlock()
	m.stateChanged(StateCapturing)

	go m.iterate(flightCtx, gen)
}

// iterate 执行一轮采样+评估；gen 不匹配的结果被静默丢弃。
// iterate runs one capture+assess round. Results whose generation no longer
// matches are discarded silently.
func (m *Monitor) iterate(ctx context.Context, gen uint64) {
	frame, err := m.sw.Capture(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			m.disableCapture(err)
			return
		}
		m.finishFlight(gen, StateIdle)
		m.notice(fmt.Sprintf("capture failed: %v", err))
		return
	}

	if !m.advanceState(gen, StateAssessing) {
		return
	}

	m.mu.Lock()
	progress := m.progress
	past := m.summaries.Recent(m.summarySend)
	m.mu.Unlock()

	verdict, err := m.assessor.AssessObservation(ctx, progress, frame.DataURL, past)
	if err != nil {
		// 失败路径：进度保持原值，循环下个 tick 继续。
		// Failure path: progress is untouched and the loop resumes next tick.
		m.finishFlight(gen, StateIdle)
		if ctx.Err() == nil {
			m.notice(fmt.Sprintf("assessment failed: %v", err))
		}
		return
	}

	if !m.advanceState(gen, StateApplying) {
		return
	}
	m.applyVerdict(gen, verdict.NewIndex, verdict.Guidance, verdict.ImageSummary)
}

// applyVerdict 应用判定：钳制索引、记录摘要、触发副作用、落盘。
// applyVerdict clamps the claimed index through Progress.Apply, records the
// observation summary, fires side effects, and persists best-effort.
func (m *Monitor) applyVerdict(gen uint64, newIndex int, guidance, summary string) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	prev := m.progress.Index
	m.progress = m.progress.Apply(newIndex)
	if g := guidance; g != "" {
		m.progress.LastGuidance = g
	}
	m.summaries = m.summaries.Append(summary)
	progress := m.progress
	past := m.summaries.Recent(m.summaries.Len())
	m.state = StateIdle
	m.cancelFlight = nil
	m.mu.Unlock()

	if m.engine != nil {
		m.engine.Apply(prev, progress.Index, guidance)
	}
	if m.onProgress != nil && progress.Index != prev {
		m.onProgress(progress)
	}
	m.persist(progress, past)
	m.stateChanged(StateIdle)
}

// Pause 暂停循环并释放采集设备；在途评估作废。
// Pause halts the loop and releases the capture device. Any in-flight
// assessment is invalidated and its late response will be discarded.
func (m *Monitor) Pause() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.generation++
	if m.cancelFlight != nil {
		m.cancelFlight()
		m.cancelFlight = nil
	}
	m.state = StatePaused
	m.mu.Unlock()

	_ = m.sw.Activate(context.Background(), nil)
	m.stateChanged(StatePaused)
}

// Resume 重新获取设备并回到 Idle / Resume re-acquires the device and returns to Idle.
func (m *Monitor) Resume(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StatePaused {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.Start(ctx)
}

// Stop 终止循环，释放设备 / Stop terminates the loop and releases the device.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.generation++
	if m.cancelFlight != nil {
		m.cancelFlight()
		m.cancelFlight = nil
	}
	m.state = StateStopped
	m.mu.Unlock()

	_ = m.sw.Close()
	m.stateChanged(StateStopped)
}

// SwitchSource 切换采集源；先释放旧设备再获取新设备。
// SwitchSource swaps capture sources. The in-flight round (if any) is
// invalidated because its frame came from the old device.
func (m *Monitor) SwitchSource(ctx context.Context, next capture.Source) error {
	m.mu.Lock()
	m.generation++
	if m.cancelFlight != nil {
		m.cancelFlight()
		m.cancelFlight = nil
	}
	if m.state != StatePaused && m.state != StateStopped {
		m.state = StateIdle
	}
	m.source = next
	m.mu.Unlock()

	return m.sw.Activate(ctx, next)
}

// --- internal helpers ---

// advanceState 仅在 generation 匹配时推进状态 / moves state only if gen still matches.
func (m *Monitor) advanceState(gen uint64, next State) bool {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	m.state = next
	m.mu.Unlock()
	m.stateChanged(next)
	return true
}

// finishFlight 结束一轮在途评估 / ends an in-flight round if gen still matches.
func (m *Monitor) finishFlight(gen uint64, next State) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.cancelFlight = nil
	m.mu.Unlock()
	m.stateChanged(next)
}

// disableCapture 设备失效：停在 Paused，等用户处理。
// disableCapture parks the loop in Paused with a persistent notice.
func (m *Monitor) disableCapture(err error) {
	m.mu.Lock()
	m.generation++
	m.state = StatePaused
	m.mu.Unlock()
	_ = m.sw.Activate(context.Background(), nil)
	m.notice(fmt.Sprintf("capture disabled: %v", err))
	m.stateChanged(StatePaused)
}

func (m *Monitor) persist(progress task.Progress, summaries []string) {
	if m.store == nil || m.sessionID == "" {
		return
	}
	snap := storage.ProgressSnapshot{
		TaskList:     progress.List,
		CurrentIndex: progress.Index,
		LastGuidance: progress.LastGuidance,
	}
	if err := m.store.SaveProgress(m.sessionID, snap); err != nil {
		m.notice(fmt.Sprintf("persist progress: %v", err))
		return
	}
	if err := m.store.SaveSummaries(m.sessionID, summaries); err != nil {
		m.notice(fmt.Sprintf("persist summaries: %v", err))
	}
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.stateChanged(s)
}

func (m *Monitor) stateChanged(s State) {
	if m.onStateChange != nil {
		m.onStateChange(s)
	}
}

func (m *Monitor) notice(text string) {
	if m.onNotice != nil {
		m.onNotice(text)
	}
}
