package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"instructor/internal/task"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderChecklist 渲染清单：已完成 ✓、当前 ▶、未开始 ○。
// RenderChecklist renders the checklist: done ✓, current ▶, pending ○.
func RenderChecklist(progress task.Progress, theme Theme) string {
	if len(progress.List) == 0 {
		return theme.MutedStyle.Render("  (empty checklist)")
	}

	lines := make([]string, 0, len(progress.List)+1)
	for i, item := range progress.List {
		line := fmt.Sprintf("%s %s (%d pts)", marker(i, progress.Index), item.Title, item.Value)
		switch {
		case i < progress.Index:
			line = theme.DoneStyle.Render(line)
		case i == progress.Index && !progress.Complete():
			line = theme.CurrentStyle.Render(line)
		default:
			line = theme.PendingStyle.Render(line)
		}
		lines = append(lines, "  "+line)
	}

	earned := progress.EarnedValue()
	total := 0
	for _, item := range progress.List {
		total += item.Value
	}
	lines = append(lines, theme.MutedStyle.Render(fmt.Sprintf("  %d / %d pts", earned, total)))

	return strings.Join(lines, "\n")
}

func marker(i, current int) string {
	switch {
	case i < current:
		return "✓"
	case i == current:
		return "▶"
	default:
		return "○"
	}
}
