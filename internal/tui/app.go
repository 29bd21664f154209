package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"instructor/internal/orchestrator"
	"instructor/internal/task"
)

// Controller 监控循环的控制面 / Controller is the monitor's control surface.
type Controller interface {
	Pause()
	Resume(ctx context.Context) error
	State() orchestrator.State
}

// --- Tea Messages ---

// StateMsg 循环状态变更 / StateMsg carries a loop state change.
type StateMsg struct{ State orchestrator.State }

// ProgressMsg 清单进度变更 / ProgressMsg carries a checklist progress change.
type ProgressMsg struct{ Progress task.Progress }

// GuidanceMsg 新的指导文本 / GuidanceMsg carries new guidance text.
type GuidanceMsg struct{ Text string }

// CelebrateMsg 任务完成庆祝 / CelebrateMsg fires when a task completes.
type CelebrateMsg struct{ CompletedIndex int }

// NoticeMsg 非致命通知 / NoticeMsg carries a non-fatal notice.
type NoticeMsg struct{ Text string }

// clearCelebrationMsg 清除庆祝横幅 / clears the celebration banner.
type clearCelebrationMsg struct{}

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	// 布局 / Layout
	width  int
	height int

	// 面板 / Panels
	feedView viewport.Model

	// 数据 / Data
	progress    task.Progress
	loopState   orchestrator.State
	modelName   string
	sessionID   string
	celebration string
	lastNotice  string

	// 内容缓冲 / Content buffers
	feedContent strings.Builder

	// 控制 / Control
	ctrl Controller

	// 配置 / Config
	theme Theme
	keys  KeyMap
}

// NewApp 创建监控 TUI 应用
// NewApp creates the monitoring TUI application
func NewApp(list task.List, ctrl Controller, model, sessionID string) App {
	return App{
		progress:  task.NewProgress(list),
		loopState: orchestrator.StatePaused,
		modelName: model,
		sessionID: sessionID,
		ctrl:      ctrl,
		theme:     DarkTheme(),
		keys:      DefaultKeyMap(),
	}
}

func (a App) Init() tea.Cmd {
	return nil
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.TogglePause):
			a.togglePause()
			return a, nil
		}
		var cmd tea.Cmd
		a.feedView, cmd = a.feedView.Update(msg)
		return a, cmd

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case StateMsg:
		a.loopState = msg.State
		return a, nil

	case ProgressMsg:
		a.progress = msg.Progress
		return a, nil

	case GuidanceMsg:
		a.appendFeed("💬 " + msg.Text)
		return a, nil

	case CelebrateMsg:
		title := fmt.Sprintf("task %d", msg.CompletedIndex+1)
		if msg.CompletedIndex >= 0 && msg.CompletedIndex < len(a.progress.List) {
			title = a.progress.List[msg.CompletedIndex].Title
		}
		a.celebration = fmt.Sprintf("🎉 %s done!", title)
		a.appendFeed("✅ " + title)
		return a, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return clearCelebrationMsg{}
		})

	case clearCelebrationMsg:
		a.celebration = ""
		return a, nil

	case NoticeMsg:
		a.lastNotice = msg.Text
		a.appendFeed("⚠ " + msg.Text)
		return a, nil
	}

	return a, nil
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	header := a.theme.TitleStyle.Render(" Instructor")
	if a.celebration != "" {
		header = lipgloss.JoinHorizontal(lipgloss.Top, header, "  ", a.theme.CelebrationStyle.Render(a.celebration))
	}

	card := a.theme.CardStyle.Width(a.width - 2).Render(a.renderTaskCard())
	feed := a.feedView.View()
	statusBar := a.renderStatusBar(a.width)

	return lipgloss.JoinVertical(lipgloss.Left, header, card, feed, statusBar)
}

// --- 内部方法 / Internal methods ---

func (a *App) togglePause() {
	if a.ctrl == nil {
		return
	}
	switch a.ctrl.State() {
	case orchestrator.StatePaused:
		if err := a.ctrl.Resume(context.Background()); err != nil {
			a.appendFeed("⚠ resume failed: " + err.Error())
		}
	case orchestrator.StateStopped:
		// terminal; nothing to toggle
	default:
		a.ctrl.Pause()
	}
}

func (a *App) relayout() {
	cardHeight := len(a.progress.List) + 4
	feedHeight := a.height - cardHeight - 2
	if feedHeight < 3 {
		feedHeight = 3
	}
	a.feedView = viewport.New(a.width, feedHeight)
	a.feedView.SetContent(a.feedContent.String())
	a.feedView.GotoBottom()
}

func (a *App) appendFeed(text string) {
	a.feedContent.WriteString(text + "\n")
	a.feedView.SetContent(a.feedContent.String())
	a.feedView.GotoBottom()
}

// --- 渲染方法 / Render methods ---

func (a App) renderTaskCard() string {
	var current string
	if item, ok := a.progress.Current(); ok {
		current = a.theme.CurrentStyle.Render(item.Title) + "\n" + a.theme.MutedStyle.Render(item.Description)
	} else {
		current = a.theme.DoneStyle.Render("All tasks complete 🎉")
	}
	return current + "\n\n" + RenderChecklist(a.progress, a.theme)
}

func (a App) renderStatusBar(width int) string {
	status := string(a.loopState)
	if a.progress.Complete() {
		status = "complete"
	}

	left := fmt.Sprintf(" %s · %s · %s", a.sessionID, a.modelName, status)
	right := "space: pause/resume · q: quit "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return a.theme.StatusBarStyle.Width(width).Render(bar)
}

// Run 启动监控 TUI；返回的 send 函数把循环事件注入 UI。
// Run starts the monitoring TUI. Monitor callbacks and effect hooks feed
// events in through the returned program's Send.
func Run(list task.List, ctrl Controller, model, sessionID string, attach func(p *tea.Program)) error {
	app := NewApp(list, ctrl, model, sessionID)
	p := tea.NewProgram(app, tea.WithAltScreen())
	if attach != nil {
		attach(p)
	}
	_, err := p.Run()
	return err
}
