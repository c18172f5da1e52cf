package client

import (
	"encoding/json"

	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/scanner"
	"github.com/kiwi-scanner/sdk/internal/ws"
)

// Envelope is a server message with its payload left raw until dispatch.
type Envelope struct {
	Type    ws.MessageType  `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// PulsePayload carries a feedback pulse by name ("selection", "success",
// "error", "impact").
type PulsePayload struct {
	Pulse string `json:"pulse"`
}

// --- Bubble Tea messages ---

// WSConnectedMsg is sent when the WebSocket connects.
type WSConnectedMsg struct{}

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

// WSSnapshotMsg delivers the full bus state; it is always the first message
// on a connection.
type WSSnapshotMsg struct{ Payload ws.SnapshotPayload }

type WSStateMsg struct{ State scanner.State }

type WSStatisticsMsg struct{ Stats *engine.FrameStats }

type WSPointCloudMsg struct{ PointCloud *engine.PointCloud }

type WSMeshMsg struct{ Mesh *engine.Mesh }

type WSSceneMsg struct{ Scene *engine.Scene }

type WSCancellationMsg struct{ Cancellation scanner.Cancellation }

type WSDiagnosticMsg struct{ Diagnostic scanner.Diagnostic }

type WSFeedbackMsg struct{ Pulse string }

// WSCommandResultMsg answers a command sent with SendCommand.
type WSCommandResultMsg struct{ Result ws.CommandResultPayload }

// WSGapMsg reports broadcasts lost between two received messages.
type WSGapMsg struct{ Missed uint64 }
