package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kiwi-scanner/sdk/internal/health"
	"github.com/kiwi-scanner/sdk/internal/scanner"
	"github.com/kiwi-scanner/sdk/internal/stats"
	"github.com/kiwi-scanner/sdk/internal/tui/client"
	"github.com/kiwi-scanner/sdk/internal/tui/theme"
	"github.com/kiwi-scanner/sdk/internal/tui/views/events"
	"github.com/kiwi-scanner/sdk/internal/tui/views/scan"
	"github.com/kiwi-scanner/sdk/internal/tui/views/status"
)

// Conn is the live connection to kiwiscand. *client.WSClient implements it.
type Conn interface {
	Listen(ctx context.Context) tea.Cmd
	ReadLoop(ctx context.Context) tea.Cmd
	SendCommand(name string) (string, error)
}

// API is the REST side of kiwiscand. *client.HTTPClient implements it.
type API interface {
	GetStats(ctx context.Context) (*stats.Stats, error)
	GetHealth(ctx context.Context) (*health.Snapshot, error)
}

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayEvents
	OverlayInfo
)

type commandSentMsg struct {
	command scanner.Command
	id      string
	err     error
}

type infoMsg struct {
	stats     *stats.Stats
	statsErr  error
	health    *health.Snapshot
	healthErr error
}

// Model is the root Bubble Tea model.
type Model struct {
	conn   Conn
	api    API
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	state   scanner.State
	overlay Overlay
	info    infoMsg

	statusBar status.Model
	scan      scan.Model
	events    events.Model

	connected bool
	now       func() time.Time
}

// New creates the root model.
func New(conn Conn, api API) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		conn:      conn,
		api:       api,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		statusBar: status.New(),
		scan:      scan.New(),
		events:    events.New(),
		now:       time.Now,
	}
}

// Init starts the WebSocket connection.
func (m Model) Init() tea.Cmd {
	return m.conn.Listen(m.ctx)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.scan.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case commandSentMsg:
		if msg.err != nil {
			m.events.Add("err", fmt.Sprintf("%s: %v", msg.command, msg.err))
		} else {
			m.events.Add("cmd", fmt.Sprintf("%s sent (#%s)", msg.command, msg.id))
		}
		return m, nil

	case infoMsg:
		m.info = msg
		return m, nil

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.events.Add("ws", "connected")
		return m, m.conn.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		m.events.Add("ws", fmt.Sprintf("disconnected: %v", msg.Err))
		return m, m.conn.Listen(m.ctx)

	case client.WSSnapshotMsg:
		m.setState(msg.Payload.State)
		m.statusBar.SessionID = msg.Payload.SessionID
		m.statusBar.Missed = 0
		m.scan.Load(msg.Payload.Snapshot)

	case client.WSGapMsg:
		m.statusBar.Missed += msg.Missed
		m.events.Add("ws", fmt.Sprintf("%d updates missed", msg.Missed))

	case client.WSStateMsg:
		m.events.Add("ws", fmt.Sprintf("state %s -> %s", m.state, msg.State))
		m.setState(msg.State)

	case client.WSStatisticsMsg:
		m.scan.Stats = msg.Stats

	case client.WSPointCloudMsg:
		m.scan.PointCloud = msg.PointCloud

	case client.WSMeshMsg:
		m.scan.Mesh = msg.Mesh

	case client.WSSceneMsg:
		m.scan.Scene = msg.Scene
		if msg.Scene != nil {
			m.events.Add("ws", "scene finalized")
		}

	case client.WSCancellationMsg:
		c := msg.Cancellation
		m.scan.Cancellation = &c
		m.events.Add("ws", fmt.Sprintf("canceled by %s", c.Source))

	case client.WSDiagnosticMsg:
		d := msg.Diagnostic
		m.scan.Diagnostic = &d
		m.events.Add("err", fmt.Sprintf("%s: %s", d.Command, d.Error))

	case client.WSFeedbackMsg:
		m.scan.Pulse(msg.Pulse, m.now())
		if msg.Pulse != "selection" {
			m.events.Add("fb", msg.Pulse)
		}

	case client.WSCommandResultMsg:
		r := msg.Result
		if r.OK {
			m.events.Add("cmd", fmt.Sprintf("%s ok, now %s", r.Command, r.State))
		} else {
			m.events.Add("err", fmt.Sprintf("%s rejected: %s", r.Command, r.Error))
		}

	default:
		return m, nil
	}

	// Every server message re-arms the reader.
	return m, m.conn.ReadLoop(m.ctx)
}

func (m *Model) setState(s scanner.State) {
	m.state = s
	m.statusBar.State = s.String()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up) && m.overlay == OverlayEvents:
			m.events.ScrollUp(1)
		case key.Matches(msg, m.keys.Down) && m.overlay == OverlayEvents:
			m.events.ScrollDown(1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Events):
		m.overlay = OverlayEvents
		return m, nil

	case key.Matches(msg, m.keys.Info):
		m.overlay = OverlayInfo
		return m, m.fetchInfo()
	}

	for _, b := range m.keys.commandBindings() {
		if key.Matches(msg, b.binding) {
			return m, m.sendCommand(b.command)
		}
	}
	return m, nil
}

func (m Model) sendCommand(cmd scanner.Command) tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		id, err := conn.SendCommand(string(cmd))
		return commandSentMsg{command: cmd, id: id, err: err}
	}
}

func (m Model) fetchInfo() tea.Cmd {
	if m.api == nil {
		return nil
	}
	api, ctx := m.api, m.ctx
	return func() tea.Msg {
		var out infoMsg
		out.stats, out.statsErr = api.GetStats(ctx)
		out.health, out.healthErr = api.GetHealth(ctx)
		return out
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch m.overlay {
	case OverlayEvents:
		body = m.events.View(m.width, m.height-4)
	case OverlayInfo:
		body = m.renderInfo()
	default:
		body = m.scan.View()
	}

	sections := []string{m.statusBar.View()}
	if !m.connected {
		sections = append(sections, m.renderDisconnected())
	}
	sections = append(sections, body, theme.StyleDimmed.Render("  "+m.helpLine()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) helpLine() string {
	var parts []string
	for _, b := range m.keys.commandBindings() {
		h := b.binding.Help()
		parts = append(parts, h.Key+":"+h.Desc)
	}
	for _, b := range []key.Binding{m.keys.Events, m.keys.Info, m.keys.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+":"+h.Desc)
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderDisconnected() string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorDanger).
		Bold(true).
		Padding(0, 2).
		Render("DISCONNECTED  Reconnecting to kiwiscand...")
}

func (m Model) renderInfo() string {
	var lines []string
	lines = append(lines, theme.StyleHeader.Render(" STATS & HEALTH "), "")

	switch {
	case m.info.statsErr != nil:
		lines = append(lines, theme.StyleError.Render("stats: "+m.info.statsErr.Error()))
	case m.info.stats != nil:
		s := m.info.stats
		lines = append(lines,
			fmt.Sprintf("scans        %d started  %d completed  %d canceled (%d by engine)",
				s.ScansStarted, s.ScansCompleted, s.ScansCanceled, s.CanceledByEngine),
			fmt.Sprintf("scenes       %d finalized  %d meshes", s.ScenesFinalized, s.MeshesGenerated),
			fmt.Sprintf("failures     %d", s.Failures),
			fmt.Sprintf("peaks        %d frames  %d points  %d faces", s.MaxSucceededFrames, s.MaxPointCount, s.MaxFaceCount),
		)
	default:
		lines = append(lines, theme.StyleDimmed.Render("loading stats..."))
	}

	lines = append(lines, "")
	switch {
	case m.info.healthErr != nil:
		lines = append(lines, theme.StyleError.Render("health: "+m.info.healthErr.Error()))
	case m.info.health != nil:
		h := m.info.health
		color := theme.ColorHealthy
		if h.Status != health.StatusOK {
			color = theme.ColorWarning
		}
		lines = append(lines,
			"health       "+lipgloss.NewStyle().Foreground(color).Render(h.Status),
			fmt.Sprintf("process      pid %d  %d goroutines  %.1f MiB rss", h.PID, h.Goroutines, float64(h.RSSBytes)/(1<<20)),
			fmt.Sprintf("host memory  %.0f%% used", h.HostMemUsedPercent),
		)
	default:
		lines = append(lines, theme.StyleDimmed.Render("loading health..."))
	}

	lines = append(lines, "", theme.StyleDimmed.Render("esc:close"))
	return theme.StyleBorder.Padding(1, 2).Render(strings.Join(lines, "\n"))
}
