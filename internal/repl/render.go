package repl

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// renderMarkdown 渲染后端回复中的 markdown；失败时原样返回。
// renderMarkdown renders markdown from backend replies, falling back to the
// raw text on renderer errors.
func renderMarkdown(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
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
