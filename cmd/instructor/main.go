package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"instructor/internal/bootstrap"
	"instructor/internal/capture"
	"instructor/internal/config"
	"instructor/internal/effects"
	"instructor/internal/orchestrator"
	"instructor/internal/repl"
	"instructor/internal/storage"
	"instructor/internal/task"
	"instructor/internal/tui"
)

func main() {
	var (
		configPath string
		mode       string
		taskDesc   string
		location   string
		resumeID   string
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.StringVar(&mode, "mode", "", "chat | monitor | converse (default: chat when -task is given)")
	flag.StringVar(&taskDesc, "task", "", "Task description to refine into a checklist")
	flag.StringVar(&location, "location", "", "Location for the task (optional)")
	flag.StringVar(&resumeID, "resume", "", "Session ID to resume")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer res.Store.Close()

	// -task 相当于上游界面写入交接数据 / -task plays the upstream screen's role.
	if taskDesc != "" {
		if err := res.Chain.SaveHandoff(storage.Handoff{
			Description:    taskDesc,
			LocationName:   location,
			InitialRequest: taskDesc,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "save handoff failed: %v\n", err)
			os.Exit(1)
		}
	}

	var snap storage.ProgressSnapshot
	if resumeID != "" {
		if _, snap, err = bootstrap.Resume(res, resumeID); err != nil {
			fmt.Fprintf(os.Stderr, "resume failed: %v\n", err)
			os.Exit(1)
		}
	}

	if mode == "" {
		mode = "monitor"
		if taskDesc != "" {
			mode = "chat"
		}
	}

	list := res.Tasks
	if mode == "converse" {
		if err := repl.NewConverse(res).Run(ctx, list, snap); err != nil {
			fmt.Fprintf(os.Stderr, "session failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if mode == "chat" {
		refined, err := repl.NewLoop(res).Run(ctx)
		if errors.Is(err, bootstrap.ErrHandoffMissing) {
			fmt.Fprintln(os.Stderr, "no pending task handoff; start with -task \"describe what you want to do\"")
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "chat failed: %v\n", err)
			os.Exit(1)
		}
		if refined == nil {
			return
		}
		list = refined
		if meta := res.Session; res.Guard.TaskID() != "" {
			meta.TaskID = res.Guard.TaskID()
			meta.Bootstrapped = true
			if err := res.Store.SaveSession(meta); err != nil {
				fmt.Fprintf(os.Stderr, "save session failed: %v\n", err)
			}
		}
	}

	if err := runMonitor(ctx, res, list, snap); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

// uiSender 把循环事件安全注入尚未创建的 TUI 程序。
// uiSender forwards loop events to the TUI program once it exists; events
// fired before attachment are dropped rather than blocking the loop.
type uiSender struct {
	mu sync.Mutex
	p  *tea.Program
}

func (s *uiSender) attach(p *tea.Program) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

func (s *uiSender) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.p
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func runMonitor(ctx context.Context, res *bootstrap.BuildResult, list task.List, snap storage.ProgressSnapshot) error {
	sender := &uiSender{}

	engine := effects.NewEngine(effects.Hooks{
		OnCelebrate: func(completedIndex int) {
			sender.send(tui.CelebrateMsg{CompletedIndex: completedIndex})
		},
		OnGuidance: func(text string) {
			sender.send(tui.GuidanceMsg{Text: text})
		},
	}, res.Narrator)

	monitor := orchestrator.NewMonitor(list, orchestrator.Options{
		Interval:    time.Duration(res.Config.Loop.IntervalMS) * time.Millisecond,
		Assessor:    res.Assessor,
		Source:      res.Source,
		Engine:      engine,
		Store:       res.Store,
		SessionID:   res.Session.ID,
		SummaryKeep: res.Config.Loop.SummaryKeep,
		SummarySend: res.Config.Loop.SummarySend,
		OnStateChange: func(state orchestrator.State) {
			sender.send(tui.StateMsg{State: state})
		},
		OnProgress: func(progress task.Progress) {
			sender.send(tui.ProgressMsg{Progress: progress})
		},
		OnNotice: func(text string) {
			sender.send(tui.NoticeMsg{Text: text})
		},
	})

	if len(snap.TaskList) > 0 {
		summaries, _ := res.Store.LoadSummaries(res.Session.ID)
		monitor.RestoreProgress(snap, summaries)
	}

	if err := monitor.Start(ctx); err != nil && !errors.Is(err, capture.ErrDeviceUnavailable) {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go monitor.Run(loopCtx)
	defer monitor.Stop()

	attach := func(p *tea.Program) {
		sender.attach(p)
		// 恢复会话时让 UI 先显示已完成的进度 / Seed restored progress into the UI.
		p.Send(tui.ProgressMsg{Progress: monitor.Progress()})
	}
	return tui.Run(list, monitor, res.Config.Provider.Model, res.Session.ID, attach)
}
