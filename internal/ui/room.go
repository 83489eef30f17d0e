package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/EdwinAdvine/liveroom/internal/session"
	"github.com/EdwinAdvine/liveroom/internal/signaling"
)

const chatPaneLines = 8

// sessionEventMsg wraps a coordinator event for the bubbletea loop.
type sessionEventMsg struct {
	event session.Event
}

// roomModel renders a live session: roster, chat pane, connectivity badge.
// It is a pure consumer of coordinator snapshots and events.
type roomModel struct {
	co     *session.Coordinator
	roomID string

	snap    session.Snapshot
	input   textinput.Model
	spinner spinner.Model

	quitting bool
}

func newRoomModel(co *session.Coordinator, roomID string) *roomModel {
	input := textinput.New()
	input.Placeholder = "Type a message and press enter"
	input.CharLimit = 500
	input.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &roomModel{
		co:      co,
		roomID:  roomID,
		snap:    co.Snapshot(),
		input:   input,
		spinner: s,
	}
}

// RunRoom blocks until the user leaves the room or the session ends.
func RunRoom(co *session.Coordinator, roomID string) error {
	p := tea.NewProgram(newRoomModel(co, roomID), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.waitForEvent())
}

func (m *roomModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return sessionEventMsg{event: <-m.co.Events()}
	}
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case sessionEventMsg:
		m.snap = m.co.Snapshot()
		if _, ended := msg.event.(session.SessionEnded); ended {
			m.quitting = true
			return m, tea.Quit
		}
		cmds = append(cmds, m.waitForEvent())

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if content := strings.TrimSpace(m.input.Value()); content != "" {
				m.co.SendChat(content)
			}
			m.input.Reset()
			return m, nil
		case "f2":
			m.co.ToggleAudio()
			return m, nil
		case "f3":
			m.co.ToggleVideo()
			return m, nil
		case "f4":
			if m.snap.Self.ScreenSharing {
				m.co.StopScreenShare()
			} else {
				m.co.StartScreenShare()
			}
			return m, nil
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *roomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s %s  %s\n\n",
		TitleStyle.Render(IconRoom+" "+m.roomID),
		m.connectivityBadge(),
		MutedStyle.Render(fmt.Sprintf("%d in room", len(m.snap.Participants)+1)),
	))

	roster := NewRosterTable(m.snap.DisplayName, m.snap.Self, m.snap.Participants)
	b.WriteString(roster.View())
	b.WriteString("\n\n")

	b.WriteString(ChatBoxStyle.Render(m.chatPane()))
	b.WriteString("\n\n")

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(MutedStyle.Render("f2 mic · f3 camera · f4 share · esc leave"))

	return b.String()
}

func (m *roomModel) connectivityBadge() string {
	switch m.snap.Connectivity {
	case signaling.StateOpen:
		return BadgeConnectedStyle.Render("connected")
	case signaling.StateConnecting, signaling.StateReconnecting:
		return BadgeReconnectingStyle.Render(m.spinner.View() + " " + m.snap.Connectivity.String())
	default:
		return BadgeOfflineStyle.Render("offline")
	}
}

func (m *roomModel) chatPane() string {
	msgs := m.snap.Chat
	if len(msgs) > chatPaneLines {
		msgs = msgs[len(msgs)-chatPaneLines:]
	}

	if len(msgs) == 0 {
		return MutedStyle.Render(IconChat + " No messages yet")
	}

	var lines []string
	for _, msg := range msgs {
		name := msg.FromName
		if msg.FromPeer == m.snap.SelfID {
			name = "you"
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s",
			MutedStyle.Render(msg.Timestamp.Format("15:04")),
			BoldStyle.Render(truncate(name, 16)),
			msg.Content,
		))
	}
	return strings.Join(lines, "\n")
}
