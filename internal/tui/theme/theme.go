// Package theme provides the Lip Gloss color palette and reusable styles
// for the kiwiscan console. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Session state colors.
var (
	ColorReady    = lipgloss.Color("#9ca3af")
	ColorScanning = lipgloss.Color("#2563eb")
	ColorViewing  = lipgloss.Color("#16a34a")
	ColorDefault  = lipgloss.Color("#9ca3af")
)

// Feedback pulse colors.
var (
	ColorSelection = lipgloss.Color("#7c3aed")
	ColorSuccess   = lipgloss.Color("#22c55e")
	ColorError     = lipgloss.Color("#dc2626")
	ColorImpact    = lipgloss.Color("#d97706")
)

// Tracking quality thresholds.
var (
	ColorTrackingGood = lipgloss.Color("#22c55e") // <10% lost
	ColorTrackingFair = lipgloss.Color("#d97706") // 10-30%
	ColorTrackingPoor = lipgloss.Color("#dc2626") // >30%
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorInfo    = lipgloss.Color("#3b82f6")
)

// StateColor returns the Lip Gloss color for a session state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "ready":
		return ColorReady
	case "scanning":
		return ColorScanning
	case "viewing":
		return ColorViewing
	default:
		return ColorDefault
	}
}

// StateGlyph returns a Unicode glyph representing a session state.
func StateGlyph(state string) string {
	switch state {
	case "ready":
		return "○"
	case "scanning":
		return "◉"
	case "viewing":
		return "◆"
	default:
		return "·"
	}
}

// PulseColor returns the color for a feedback pulse name.
func PulseColor(pulse string) lipgloss.Color {
	switch pulse {
	case "selection":
		return ColorSelection
	case "success":
		return ColorSuccess
	case "error":
		return ColorError
	case "impact":
		return ColorImpact
	default:
		return ColorDefault
	}
}

// TrackingColor returns the color for the share of frames that lost
// tracking.
func TrackingColor(lostRatio float64) lipgloss.Color {
	switch {
	case lostRatio > 0.3:
		return ColorTrackingPoor
	case lostRatio > 0.1:
		return ColorTrackingFair
	default:
		return ColorTrackingGood
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)
