package effects

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Narrator 旁白能力 / Narrator is the narration capability.
type Narrator interface {
	// Speak 朗读文本；实现必须立即返回，失败静默。
	// Speak narrates text. Implementations must return immediately and
	// swallow failures; narration is best-effort by contract.
	Speak(text string)
}

// CommandNarrator 调用外部语音命令 (say / espeak / festival) 的旁白实现。
// CommandNarrator shells out to a speech command. Each utterance runs in its
// own goroutine with a bounded timeout so a hung speech daemon cannot wedge
// the caller.
type CommandNarrator struct {
	command []string
	timeout time.Duration
}

// NewCommandNarrator 创建命令旁白；command 为空返回 nil（无旁白能力）。
// NewCommandNarrator builds a command-backed narrator. An empty command or a
// missing binary yields nil, meaning narration is unavailable.
func NewCommandNarrator(command []string, timeoutMS int) *CommandNarrator {
	if len(command) == 0 {
		return nil
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil
	}
	timeout := 30 * time.Second
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	return &CommandNarrator{
		command: append([]string(nil), command...),
		timeout: timeout,
	}
}

func (n *CommandNarrator) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		args := append(append([]string(nil), n.command[1:]...), text)
		// 失败静默：旁白是尽力而为 / Failures are swallowed on purpose.
		_ = exec.CommandContext(ctx, n.command[0], args...).Run()
	}()
}
