package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/kiwi-scanner/sdk/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	SessionID string
	State     string
	Missed    uint64
	Width     int
}

// New creates a status bar model.
func New() Model {
	return Model{State: "ready"}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	stateStr := lipgloss.NewStyle().Foreground(theme.StateColor(m.State)).Bold(true).
		Render(theme.StateGlyph(m.State) + " " + m.State)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + stateStr
	if m.SessionID != "" {
		id := m.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		content += sep + theme.StyleDimmed.Render("session "+id)
	}
	if m.Missed > 0 {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).
			Render(fmt.Sprintf("%d updates missed", m.Missed))
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
