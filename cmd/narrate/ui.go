package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"topictrend-go/internal/model"
	"topictrend-go/internal/narration"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// snapshotMsg 会话变化，由 Session 监听器投递
type snapshotMsg narration.Snapshot

type startedMsg struct{ err error }

type viewModel struct {
	session *narration.Session
	request model.AnalysisRequest

	vp       viewport.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer
	snap     narration.Snapshot
	ready    bool
}

func newViewModel(session *narration.Session, req model.AnalysisRequest) viewModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return viewModel{
		session: session,
		request: req,
		vp:      viewport.New(80, 20),
		spin:    sp,
	}
}

func (m viewModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.start())
}

// start Analyze 会同步通知监听器，必须放在 Cmd 里执行，不能占用事件循环
func (m viewModel) start() tea.Cmd {
	session, req := m.session, m.request
	return func() tea.Msg {
		_, err := session.Analyze(context.Background(), req)
		return startedMsg{err: err}
	}
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			session := m.session
			return m, tea.Sequence(func() tea.Msg { session.Cancel(); return nil }, tea.Quit)
		case "r":
			return m, m.start()
		case "x":
			session := m.session
			return m, func() tea.Msg { session.Cancel(); return nil }
		case "c":
			session := m.session
			return m, func() tea.Msg { session.Clear(); return nil }
		}

	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.vp.Height = max(msg.Height-3, 1)
		m.renderer = newRenderer(msg.Width)
		m.ready = true
		m.vp.SetContent(m.render())

	case snapshotMsg:
		m.snap = narration.Snapshot(msg)
		m.vp.SetContent(m.render())
		if m.snap.ScrollToBottom {
			m.vp.GotoBottom()
		}

	case startedMsg:
		// 校验失败时错误已经通过快照展示
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m viewModel) render() string {
	text := m.snap.Text
	if m.renderer != nil && text != "" {
		if out, err := m.renderer.Render(text); err == nil {
			text = out
		}
	}
	if m.snap.Err != "" {
		text += "\n" + errorStyle.Render("✗ "+m.snap.Err)
	}
	return text
}

func (m viewModel) View() string {
	if !m.ready {
		return "\n  " + m.spin.View() + " connecting..."
	}

	status := m.snap.State.String()
	if m.snap.State == narration.StateStreaming {
		status = m.spin.View() + " " + status
	}
	header := titleStyle.Render(fmt.Sprintf("AI解读 · %s", m.request.Type))
	footer := statusStyle.Render(fmt.Sprintf("%s · %3.f%% · r 重新生成 · x 停止 · c 清空 · q 退出",
		status, m.vp.ScrollPercent()*100))

	return strings.Join([]string{header, m.vp.View(), footer}, "\n")
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		return nil
	}
	return r
}
