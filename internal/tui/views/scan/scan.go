// Package scan renders the live artifacts of the session: frame statistics,
// the captured point cloud, reconstruction passes and the finished scene.
package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/scanner"
	"github.com/kiwi-scanner/sdk/internal/tui/theme"
)

// Model mirrors the replayed bus channels.
type Model struct {
	Stats        *engine.FrameStats
	PointCloud   *engine.PointCloud
	Mesh         *engine.Mesh
	Scene        *engine.Scene
	Cancellation *scanner.Cancellation
	Diagnostic   *scanner.Diagnostic

	LastPulse   string
	LastPulseAt time.Time
	Pulses      map[string]int

	Width int
}

func New() Model {
	return Model{Pulses: make(map[string]int)}
}

// Load replaces every channel value from a snapshot.
func (m *Model) Load(s scanner.Snapshot) {
	m.Stats = s.Statistics
	m.PointCloud = s.PointCloud
	m.Mesh = s.Mesh
	m.Scene = s.Scene
	m.Cancellation = s.Cancellation
	m.Diagnostic = s.Diagnostic
}

func (m *Model) Pulse(name string, at time.Time) {
	m.LastPulse = name
	m.LastPulseAt = at
	m.Pulses[name]++
}

func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	label := func(s string) string { return theme.StyleDimmed.Render(fmt.Sprintf("%-13s", s)) }
	none := theme.StyleDimmed.Render("-")

	var lines []string
	lines = append(lines, theme.StyleHeader.Render("SCAN"))

	frames := none
	if st := m.Stats; st != nil {
		total := st.SucceededCount + st.LostTrackingCount
		ratio := 0.0
		if total > 0 {
			ratio = float64(st.LostTrackingCount) / float64(total)
		}
		lost := lipgloss.NewStyle().Foreground(theme.TrackingColor(ratio)).
			Render(fmt.Sprintf("%d lost (%d in a row)", st.LostTrackingCount, st.ConsecutiveLostTrackingCount))
		frames = fmt.Sprintf("%d ok  %s", st.SucceededCount, lost)
	}
	lines = append(lines, label("frames")+frames)

	pc := none
	if m.PointCloud != nil {
		pc = fmt.Sprintf("%s  %d points", shortID(m.PointCloud.ID), m.PointCloud.PointCount)
	}
	lines = append(lines, label("point cloud")+pc)

	mesh := none
	if m.Mesh != nil {
		mesh = fmt.Sprintf("pass %d  %d faces  %d vertices", m.Mesh.Pass, m.Mesh.FaceCount, m.Mesh.VertexCount)
	}
	lines = append(lines, label("mesh")+mesh)

	scene := none
	if m.Scene != nil {
		scene = lipgloss.NewStyle().Foreground(theme.ColorViewing).
			Render(fmt.Sprintf("%s  finished %s", shortID(m.Scene.ID), m.Scene.FinishedAt.Format("15:04:05")))
	}
	lines = append(lines, label("scene")+scene)

	pulse := none
	if m.LastPulse != "" {
		pulse = lipgloss.NewStyle().Foreground(theme.PulseColor(m.LastPulse)).Render(m.LastPulse) +
			theme.StyleDimmed.Render(fmt.Sprintf("  (%d selection ticks)", m.Pulses["selection"]))
	}
	lines = append(lines, label("feedback")+pulse)

	if c := m.Cancellation; c != nil {
		lines = append(lines, label("canceled")+
			fmt.Sprintf("#%d by %s at %s", c.Seq, c.Source, c.At.Format("15:04:05")))
	}
	if d := m.Diagnostic; d != nil {
		lines = append(lines, label("last error")+theme.StyleError.Render(d.Command+": "+d.Error))
	}

	return theme.StyleBorder.Width(width - 2).Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
