package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/text"

	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/EdwinAdvine/liveroom/internal/session"
)

// RosterTable renders the participant list with media icons.
type RosterTable struct {
	self         string
	selfFlags    session.MediaFlags
	participants []session.Participant
}

func NewRosterTable(selfName string, selfFlags session.MediaFlags, participants []session.Participant) *RosterTable {
	return &RosterTable{self: selfName, selfFlags: selfFlags, participants: participants}
}

// View renders the roster as a string
func (t *RosterTable) View() string {
	headers := []string{"Participant", "Role", "Cam", "Mic", "Share"}

	rows := [][]string{{
		t.self + " (you)",
		"-",
		mediaIcon(t.selfFlags.Video, IconCamera, IconCameraX),
		mediaIcon(t.selfFlags.Audio, IconMic, IconMicX),
		shareIcon(t.selfFlags.ScreenSharing),
	}}
	for _, p := range t.participants {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		rows = append(rows, []string{
			truncate(name, 24),
			p.Role,
			mediaIcon(p.Video, IconCamera, IconCameraX),
			mediaIcon(p.Audio, IconMic, IconMicX),
			shareIcon(p.ScreenSharing),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func mediaIcon(on bool, onIcon, offIcon string) string {
	if on {
		return onIcon
	}
	return offIcon
}

func shareIcon(sharing bool) string {
	if sharing {
		return IconScreen
	}
	return "-"
}

// RenderSessionSummary prints the end-of-session totals using a go-pretty
// table, matching the exit summaries elsewhere in the tooling.
func RenderSessionSummary(title string, summary session.Summary) {
	tw := prettytable.NewWriter()
	tw.SetTitle(title)
	tw.SetStyle(prettytable.StyleRounded)
	tw.Style().Title.Align = text.AlignCenter

	tw.AppendRows([]prettytable.Row{
		{"Duration", formatDuration(summary.Duration)},
		{"Peak participants", summary.PeakParticipants},
		{"Chat messages", summary.ChatMessages},
	})

	fmt.Println()
	fmt.Println(tw.Render())
}

// RoomInfo is the joined-room banner.
type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func (r *RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Joined Room\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)

	return boxStyle.Render(content)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
