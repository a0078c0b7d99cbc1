package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	session "github.com/koscakluka/voicechat/core"
	"github.com/koscakluka/voicechat/core/config"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Session callbacks run on session goroutines; they hand events over to the
// update loop through this channel, dropping rather than blocking when the UI
// falls behind.
type entryMsg session.Entry

type stateMsg session.State

type sessionErrMsg struct {
	kind    session.ErrorKind
	message string
}

type startResultMsg struct{ err error }

type stoppedMsg struct{}

type model struct {
	cfg     config.Config
	session *session.Session
	events  chan tea.Msg

	viewport viewport.Model
	spinner  spinner.Model
	ready    bool
	width    int

	state    session.State
	entries  []session.Entry
	lastErr  string
	starting bool
}

func newModel(cfg config.Config) *model {
	m := &model{
		cfg:     cfg,
		events:  make(chan tea.Msg, 64),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		state:   session.StateDisconnected,
	}

	m.session = session.New(cfg,
		session.WithOnConversationEntry(func(entry session.Entry) {
			m.post(entryMsg(entry))
		}),
		session.WithOnStateChange(func(state session.State) {
			m.post(stateMsg(state))
		}),
		session.WithOnError(func(kind session.ErrorKind, message string) {
			m.post(sessionErrMsg{kind: kind, message: message})
		}),
	)

	return m
}

func (m *model) post(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

func (m *model) nextEvent() tea.Cmd {
	return func() tea.Msg { return <-m.events }
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.nextEvent())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.session.Stop()
			return m, tea.Quit
		case "s":
			return m, m.toggleSession()
		case "c":
			m.session.ClearConversation()
			m.entries = nil
			m.refreshViewport()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		chromeHeight := 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chromeHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chromeHeight
		}
		m.refreshViewport()
		return m, nil

	case entryMsg:
		m.entries = append(m.entries, session.Entry(msg))
		m.refreshViewport()
		m.viewport.GotoBottom()
		return m, m.nextEvent()

	case stateMsg:
		m.state = session.State(msg)
		if m.state == session.StateActive || m.state == session.StateDisconnected {
			m.starting = false
		}
		return m, m.nextEvent()

	case sessionErrMsg:
		m.lastErr = fmt.Sprintf("%s: %s", msg.kind, msg.message)
		return m, m.nextEvent()

	case startResultMsg:
		m.starting = false
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		}
		return m, nil

	case stoppedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *model) toggleSession() tea.Cmd {
	switch m.state {
	case session.StateDisconnected:
		m.starting = true
		m.lastErr = ""
		return func() tea.Msg {
			return startResultMsg{err: m.session.Start(context.Background())}
		}
	case session.StateConnecting, session.StateActive:
		return func() tea.Msg {
			m.session.Stop()
			return stoppedMsg{}
		}
	}
	return nil
}

func (m *model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderConversation())
}

func (m *model) renderConversation() string {
	if len(m.entries) == 0 {
		return statusStyle.Render("No messages yet. Press s to start talking.")
	}

	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	for _, entry := range m.entries {
		label := userStyle.Render("you")
		if entry.Role == session.RoleAssistant {
			label = assistantStyle.Render("assistant")
		}
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(wordwrap.String(entry.Text, width-2))
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m *model) statusLine() string {
	switch {
	case m.starting || m.state == session.StateConnecting:
		return m.spinner.View() + " connecting"
	case m.state == session.StateActive:
		return m.spinner.View() + " listening"
	case m.state == session.StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

func (m *model) View() string {
	if !m.ready {
		return "loading"
	}

	header := titleStyle.Render("voicechat") + "  " + statusStyle.Render(m.statusLine())
	footer := helpStyle.Render("s start/stop · c clear · q quit")
	if m.lastErr != "" {
		footer = errorStyle.Render(m.lastErr) + "\n" + footer
	} else {
		footer = "\n" + footer
	}

	return header + "\n" + m.viewport.View() + "\n" + footer
}
