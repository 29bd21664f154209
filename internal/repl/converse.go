package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"instructor/internal/bootstrap"
	"instructor/internal/chat"
	"instructor/internal/contextmgr"
	"instructor/internal/effects"
	"instructor/internal/orchestrator"
	"instructor/internal/provider"
	"instructor/internal/storage"
	"instructor/internal/task"
)

// Converse 文本汇报模式：用户逐回合口头描述进展，没有定时采集。
// Converse is the hands-free counterpart to the timed monitor. The user
// reports progress in text, one turn at a time, and each turn is assessed
// against the checklist. /snap grabs a single frame from the capture source
// and attaches it to the next turn.
type Converse struct {
	*bootstrap.BuildResult
	out io.Writer
}

// NewConverse builds a conversational session front end from a BuildResult.
func NewConverse(res *bootstrap.BuildResult) *Converse {
	return &Converse{BuildResult: res, out: os.Stdout}
}

// Run 运行对话会话，所有任务完成或用户退出时返回。
// Run drives the session until the checklist completes or the user quits.
func (c *Converse) Run(ctx context.Context, list task.List, snap storage.ProgressSnapshot) error {
	engine := effects.NewEngine(effects.Hooks{
		OnCelebrate: func(completedIndex int) {
			if completedIndex >= 0 && completedIndex < len(list) {
				item := list[completedIndex]
				fmt.Fprintf(c.out, "%s✅ %s (+%d pts)%s\n", ansiGreen, item.Title, item.Value, ansiReset)
			}
		},
		OnGuidance: func(text string) {
			fmt.Fprintln(c.out, renderMarkdown(text))
		},
	}, c.Narrator)

	summarizer := contextmgr.NewLLMCompaction(c.summarize, 500)
	session := orchestrator.NewTurnSession(list, orchestrator.Options{
		Assessor:    c.ChatAss,
		Engine:      engine,
		Store:       c.Store,
		SessionID:   c.Session.ID,
		HistoryCap:  c.Config.Loop.HistoryCap,
		Tokenizer:   contextmgr.NewTokenizerForModel(c.Config.Provider.Model),
		Compactor:   contextmgr.NewFallbackCompaction(summarizer, &contextmgr.RegexCompaction{}),
		TokenBudget: c.Config.Loop.TokenBudget,
	})
	if len(snap.TaskList) > 0 {
		session.RestoreProgress(snap)
		if messages, err := c.Store.LoadMessages(c.Session.ID); err == nil {
			session.RestoreHistory(messages)
		}
	}

	c.printStatus(session.Progress())
	if session.Progress().Complete() {
		return nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		HistoryFile:     filepath.Join(c.Config.Storage.BaseDir, "converse_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		imageDataURL := ""
		switch {
		case text == "/quit" || text == "/exit":
			return nil
		case text == "/help":
			c.printHelp()
			continue
		case text == "/status":
			c.printStatus(session.Progress())
			continue
		case text == "/snap" || strings.HasPrefix(text, "/snap "):
			note := strings.TrimSpace(strings.TrimPrefix(text, "/snap"))
			dataURL, err := c.grabFrame(ctx)
			if err != nil {
				fmt.Fprintf(c.out, "%ssnapshot failed: %v%s\n", ansiRed, err, ansiReset)
				continue
			}
			imageDataURL = dataURL
			if note == "" {
				note = "Here is what my workspace looks like right now."
			}
			text = note
		}

		if _, err := session.HandleTurn(ctx, text, imageDataURL); err != nil {
			fmt.Fprintf(c.out, "%serror: %v%s\n", ansiRed, err, ansiReset)
			continue
		}

		progress := session.Progress()
		if progress.Complete() {
			c.printStatus(progress)
			fmt.Fprintf(c.out, "%sAll tasks complete 🎉%s\n", ansiGreen, ansiReset)
			return nil
		}
	}
}

// summarize 用当前模型折叠较旧的对话回合。
// summarize asks the active model to fold older conversation turns.
func (c *Converse) summarize(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.Provider.Chat(ctx, provider.ChatRequest{
		Model: c.Config.Provider.Model,
		Messages: []chat.Message{
			chat.Text("system", systemPrompt),
			chat.Text("user", userPrompt),
		},
		MaxTokens: 500,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// grabFrame 按需采样一帧：获取设备、采样、立即释放。
// grabFrame acquires the capture device, grabs one frame, and releases it
// immediately so nothing else is locked out between turns.
func (c *Converse) grabFrame(ctx context.Context) (string, error) {
	if c.Source == nil {
		return "", errors.New("no capture source configured")
	}
	if err := c.Source.Acquire(ctx); err != nil {
		return "", err
	}
	defer func() { _ = c.Source.Release() }()

	frame, err := c.Source.Capture(ctx)
	if err != nil {
		return "", err
	}
	return frame.DataURL, nil
}

func (c *Converse) printStatus(progress task.Progress) {
	for i, item := range progress.List {
		mark := "○"
		if i < progress.Index {
			mark = "✓"
		} else if i == progress.Index {
			mark = "▶"
		}
		fmt.Fprintf(c.out, "  %s %s (%d pts)\n", mark, item.Title, item.Value)
	}
	fmt.Fprintf(c.out, "  %d / %d pts\n", progress.EarnedValue(), progress.List.TotalValue())
}

func (c *Converse) prompt() string {
	if useColor() {
		return ansiYellow + "report> " + ansiReset
	}
	return "report> "
}

func (c *Converse) printHelp() {
	fmt.Fprintln(c.out, "Describe what you just did. /snap attaches a camera frame, /status shows the checklist, /quit leaves.")
}
