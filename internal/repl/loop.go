package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"instructor/internal/bootstrap"
	"instructor/internal/task"
	"instructor/internal/taskapi"
)

// ANSI colors for prompt
const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[90m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

// Loop 引导对话循环：把一句任务描述逐轮细化成可执行清单。
// Loop is the guided-chat front end. It refines a one-line task description
// into an executable checklist through follow-up turns with the backend.
type Loop struct {
	*bootstrap.BuildResult
	out io.Writer
	// options 上一轮的多选项；数字输入按序号选中。
	// options holds last turn's multiple choice; a bare number picks one.
	options []string
}

// NewLoop builds a chat loop from a BuildResult.
func NewLoop(res *bootstrap.BuildResult) *Loop {
	return &Loop{BuildResult: res, out: os.Stdout}
}

// Run 运行引导对话；后端给出最终指令时返回细化后的清单。
// Run drives the guided chat. It returns the refined checklist once the
// backend sends a final instruction, or nil when the user quits first.
func (l *Loop) Run(ctx context.Context) (task.List, error) {
	first, err := l.Guard.Bootstrap(ctx)
	if err != nil {
		if errors.Is(err, bootstrap.ErrHandoffMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	if list := l.renderTurn(first); list != nil {
		return list, nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          l.prompt(),
		HistoryFile:     filepath.Join(l.Config.Storage.BaseDir, "chat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return nil, nil
		}
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		switch text {
		case "/quit", "/exit":
			return nil, nil
		case "/help":
			l.printHelp()
			continue
		}
		if picked, ok := l.pickOption(text); ok {
			text = picked
			fmt.Fprintf(l.out, "%s→ %s%s\n", ansiDim, picked, ansiReset)
		}

		resp, err := l.Backend.GenerateFeedback(ctx, taskapi.FeedbackRequest{
			TaskDescription: text,
			TaskID:          l.Guard.TaskID(),
		})
		if err != nil {
			fmt.Fprintf(l.out, "%serror: %v%s\n", ansiRed, err, ansiReset)
			continue
		}
		if list := l.renderTurn(resp); list != nil {
			return list, nil
		}
	}
}

// pickOption 把纯数字输入映射到上一轮的选项文本。
// pickOption maps a bare number to last turn's option text.
func (l *Loop) pickOption(text string) (string, bool) {
	if len(l.options) == 0 {
		return "", false
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > len(l.options) {
		return "", false
	}
	return l.options[n-1], true
}

// renderTurn 渲染一轮响应；最终指令出现时返回清单。
// renderTurn prints one backend turn. A non-nil return is the final checklist.
func (l *Loop) renderTurn(resp taskapi.FeedbackResponse) task.List {
	if resp.Response != "" {
		fmt.Fprintln(l.out, renderMarkdown(resp.Response))
	}

	l.options = resp.MultipleChoice
	for i, opt := range resp.MultipleChoice {
		fmt.Fprintf(l.out, "  %s%d.%s %s\n", ansiGreen, i+1, ansiReset, opt)
	}

	if resp.FinalInstruction == "" {
		return nil
	}
	fmt.Fprintln(l.out, renderMarkdown(resp.FinalInstruction))
	list := task.Normalize(resp.Subtasks)
	for i, item := range list {
		fmt.Fprintf(l.out, "  %s%d.%s %s (%d pts)\n", ansiYellow, i+1, ansiReset, item.Title, item.Value)
	}
	return list
}

func (l *Loop) prompt() string {
	if useColor() {
		return ansiGreen + "you> " + ansiReset
	}
	return "you> "
}

func (l *Loop) printHelp() {
	fmt.Fprintln(l.out, "Answer the question, type an option number, or /quit to leave.")
}

func useColor() bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("INSTRUCTOR_NO_COLOR")) != "" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(os.Getenv("TERM"))) != "dumb"
}
