package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/kiwi-scanner/sdk/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var errNotConnected = errors.New("not connected")

// WSClient manages the WebSocket connection to kiwiscand.
type WSClient struct {
	url   string
	token string

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes (ping, commands)
	conn    *websocket.Conn
	seq     uint64
	pending tea.Msg
	nextID  int
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewWSClient creates a client that connects to the given WebSocket URL.
func NewWSClient(url, token string) *WSClient {
	return &WSClient{url: url, token: token}
}

// Listen returns a Bubble Tea command that connects to the server. It retries
// with exponential backoff until it succeeds or ctx is done.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			if ctx.Err() != nil {
				return nil
			}

			var header http.Header
			if c.token != "" {
				header = http.Header{"Authorization": {"Bearer " + c.token}}
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
			if err != nil {
				log.Printf("ws dial error: %v (retry in %v)", err, delay)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}

			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.seq = 0
			c.pending = nil
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)

			return WSConnectedMsg{}
		}
	}
}

// ReadLoop returns a Bubble Tea command that reads until it has one message
// to deliver. It should be restarted after every message it returns.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		if pending := c.pending; pending != nil {
			c.pending = nil
			c.mu.Unlock()
			return pending
		}
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: errNotConnected}
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return WSDisconnectedMsg{Err: err}
			}

			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}

			teaMsg := dispatch(env)
			if teaMsg == nil {
				continue
			}
			if gap := c.track(env); gap > 0 {
				c.mu.Lock()
				c.pending = teaMsg
				c.mu.Unlock()
				return WSGapMsg{Missed: gap}
			}
			return teaMsg
		}
	}
}

// track records the broadcast sequence and returns how many broadcasts were
// skipped since the previous one. Direct replies carry seq 0 and are ignored.
func (c *WSClient) track(env Envelope) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if env.Type == ws.MsgSnapshot {
		c.seq = env.Seq
		return 0
	}
	if env.Seq == 0 {
		return 0
	}
	var gap uint64
	if env.Seq > c.seq+1 {
		gap = env.Seq - c.seq - 1
	}
	c.seq = env.Seq
	return gap
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or the connection changes.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SendCommand asks the server to run a session command. The reply arrives
// as a WSCommandResultMsg carrying the returned id.
func (c *WSClient) SendCommand(name string) (string, error) {
	c.mu.Lock()
	conn := c.conn
	c.nextID++
	id := strconv.Itoa(c.nextID)
	c.mu.Unlock()
	if conn == nil {
		return "", errNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return id, conn.WriteJSON(ws.CommandRequest{Type: ws.MsgCommand, Command: name, ID: id})
}

// Seq returns the last seen broadcast sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close drops the current connection without reconnecting.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func dispatch(env Envelope) tea.Msg {
	switch env.Type {
	case ws.MsgSnapshot:
		var p ws.SnapshotPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return WSSnapshotMsg{Payload: p}
		}
	case ws.MsgState:
		var p ws.StatePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return WSStateMsg{State: p.State}
		}
	case ws.MsgStatistics:
		var m WSStatisticsMsg
		if json.Unmarshal(env.Payload, &m.Stats) == nil {
			return m
		}
	case ws.MsgPointCloud:
		var m WSPointCloudMsg
		if json.Unmarshal(env.Payload, &m.PointCloud) == nil {
			return m
		}
	case ws.MsgMesh:
		var m WSMeshMsg
		if json.Unmarshal(env.Payload, &m.Mesh) == nil {
			return m
		}
	case ws.MsgScene:
		var m WSSceneMsg
		if json.Unmarshal(env.Payload, &m.Scene) == nil {
			return m
		}
	case ws.MsgCancellation:
		var m WSCancellationMsg
		if json.Unmarshal(env.Payload, &m.Cancellation) == nil {
			return m
		}
	case ws.MsgDiagnostic:
		var m WSDiagnosticMsg
		if json.Unmarshal(env.Payload, &m.Diagnostic) == nil {
			return m
		}
	case ws.MsgFeedback:
		var p PulsePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return WSFeedbackMsg{Pulse: p.Pulse}
		}
	case ws.MsgCommandResult:
		var m WSCommandResultMsg
		if json.Unmarshal(env.Payload, &m.Result) == nil {
			return m
		}
	}
	return nil
}
