package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/health"
	"github.com/kiwi-scanner/sdk/internal/scanner"
	"github.com/kiwi-scanner/sdk/internal/stats"
	"github.com/kiwi-scanner/sdk/internal/tui/client"
	"github.com/kiwi-scanner/sdk/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readMsg struct{}

type listenMsg struct{}

type fakeConn struct {
	sent []string
	err  error
}

func (f *fakeConn) Listen(context.Context) tea.Cmd {
	return func() tea.Msg { return listenMsg{} }
}

func (f *fakeConn) ReadLoop(context.Context) tea.Cmd {
	return func() tea.Msg { return readMsg{} }
}

func (f *fakeConn) SendCommand(name string) (string, error) {
	f.sent = append(f.sent, name)
	return "7", f.err
}

type fakeAPI struct{}

func (fakeAPI) GetStats(context.Context) (*stats.Stats, error) {
	return &stats.Stats{ScansStarted: 3, ScansCompleted: 2}, nil
}

func (fakeAPI) GetHealth(context.Context) (*health.Snapshot, error) {
	return nil, errors.New("unreachable")
}

func newModel(conn *fakeConn) Model {
	m := New(conn, fakeAPI{})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func keyMsg(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestCommandKeys(t *testing.T) {
	tests := []struct {
		key  rune
		want string
	}{
		{'p', "prepare"},
		{'s', "start"},
		{'f', "finish"},
		{'c', "cancel"},
		{'r', "rescan"},
		{'v', "finalize"},
		{'o', "show_viewer"},
		{'n', "countdown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			conn := &fakeConn{}
			m := newModel(conn)

			m, cmd := update(t, m, keyMsg(tt.key))
			require.NotNil(t, cmd)
			sent := cmd()
			assert.Equal(t, []string{tt.want}, conn.sent)

			m, _ = update(t, m, sent)
			require.NotEmpty(t, m.events.Entries)
			assert.Equal(t, "cmd", m.events.Entries[len(m.events.Entries)-1].Kind)
		})
	}
}

func TestCommandSendFailureIsLogged(t *testing.T) {
	conn := &fakeConn{err: errors.New("not connected")}
	m := newModel(conn)

	_, cmd := update(t, m, keyMsg('s'))
	m, _ = update(t, m, cmd())

	last := m.events.Entries[len(m.events.Entries)-1]
	assert.Equal(t, "err", last.Kind)
	assert.Contains(t, last.Message, "start: not connected")
}

func TestServerMessagesUpdateViewAndRearmReader(t *testing.T) {
	m := newModel(&fakeConn{})

	m, cmd := update(t, m, client.WSConnectedMsg{})
	assert.IsType(t, readMsg{}, cmd())

	m, cmd = update(t, m, client.WSSnapshotMsg{Payload: ws.SnapshotPayload{
		SessionID: "abcdef123456",
		Snapshot:  scanner.Snapshot{State: scanner.Scanning},
	}})
	assert.IsType(t, readMsg{}, cmd())
	assert.Equal(t, scanner.Scanning, m.state)

	msgs := []tea.Msg{
		client.WSStatisticsMsg{Stats: &engine.FrameStats{SucceededCount: 12}},
		client.WSPointCloudMsg{PointCloud: &engine.PointCloud{ID: "pc-1", PointCount: 1200}},
		client.WSStateMsg{State: scanner.Viewing},
		client.WSFeedbackMsg{Pulse: "success"},
		client.WSMeshMsg{Mesh: &engine.Mesh{Pass: 1, FaceCount: 80}},
		client.WSGapMsg{Missed: 2},
		client.WSCommandResultMsg{Result: ws.CommandResultPayload{Command: "finalize", Error: "no scene", State: scanner.Viewing}},
	}
	for _, msg := range msgs {
		m, cmd = update(t, m, msg)
		require.NotNil(t, cmd)
		assert.IsType(t, readMsg{}, cmd(), "%T should re-arm the reader", msg)
	}

	assert.Equal(t, scanner.Viewing, m.state)
	assert.Equal(t, uint64(2), m.statusBar.Missed)

	v := m.View()
	for _, want := range []string{"viewing", "session abcdef12", "12 ok", "1200 points", "pass 1", "success"} {
		assert.Contains(t, v, want)
	}
	assert.NotContains(t, v, "DISCONNECTED")

	last := m.events.Entries[len(m.events.Entries)-1]
	assert.Equal(t, "err", last.Kind)
	assert.Contains(t, last.Message, "finalize rejected: no scene")
}

func TestDisconnectReconnects(t *testing.T) {
	m := newModel(&fakeConn{})
	m, _ = update(t, m, client.WSConnectedMsg{})

	m, cmd := update(t, m, client.WSDisconnectedMsg{Err: errors.New("eof")})
	assert.IsType(t, listenMsg{}, cmd())

	v := m.View()
	assert.Contains(t, v, "DISCONNECTED")
	assert.Contains(t, v, "Reconnecting")
}

func TestOverlays(t *testing.T) {
	conn := &fakeConn{}
	m := newModel(conn)

	m, cmd := update(t, m, keyMsg('i'))
	require.Equal(t, OverlayInfo, m.overlay)
	m, _ = update(t, m, cmd())
	v := m.View()
	assert.Contains(t, v, "3 started  2 completed")
	assert.Contains(t, v, "health: unreachable")

	// Command keys are inert while an overlay is open.
	m, cmd = update(t, m, keyMsg('s'))
	assert.Nil(t, cmd)
	assert.Empty(t, conn.sent)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, OverlayNone, m.overlay)

	m, _ = update(t, m, keyMsg('e'))
	assert.Equal(t, OverlayEvents, m.overlay)
	assert.Contains(t, m.View(), "EVENT LOG")
}

func TestQuit(t *testing.T) {
	m := newModel(&fakeConn{})
	_, cmd := update(t, m, keyMsg('q'))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Error(t, m.ctx.Err())
}

func TestHelpLineListsEveryCommand(t *testing.T) {
	help := New(&fakeConn{}, nil).helpLine()
	for _, c := range scanner.Commands() {
		// show_viewer is labelled "viewer".
		name := strings.TrimPrefix(string(c), "show_")
		assert.Contains(t, help, name)
	}
}
