package ws

import (
	"github.com/kiwi-scanner/sdk/internal/feedback"
	"github.com/kiwi-scanner/sdk/internal/scanner"
)

type MessageType string

// Server to client.
const (
	MsgSnapshot      MessageType = "snapshot"
	MsgState         MessageType = "state"
	MsgStatistics    MessageType = "statistics"
	MsgPointCloud    MessageType = "point_cloud"
	MsgMesh          MessageType = "mesh"
	MsgScene         MessageType = "scene"
	MsgCancellation  MessageType = "cancellation"
	MsgDiagnostic    MessageType = "diagnostic"
	MsgFeedback      MessageType = "feedback"
	MsgCommandResult MessageType = "command_result"
)

// Client to server.
const (
	MsgCommand MessageType = "command"
)

// WSMessage is the envelope of every server message. Seq increases by one
// per broadcast so clients can detect drops.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	SessionID string `json:"sessionId"`
	scanner.Snapshot
}

type StatePayload struct {
	State scanner.State `json:"state"`
}

type FeedbackPayload struct {
	Pulse feedback.Pulse `json:"pulse"`
}

// CommandRequest is sent by clients to run a session command.
type CommandRequest struct {
	Type    MessageType `json:"type"`
	Command string      `json:"command"`
	// ID is echoed in the result so clients can match replies.
	ID string `json:"id,omitempty"`
}

type CommandResultPayload struct {
	ID      string        `json:"id,omitempty"`
	Command string        `json:"command"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	State   scanner.State `json:"state"`
}
