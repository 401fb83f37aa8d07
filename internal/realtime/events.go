// ABOUTME: Wire shapes for events and client commands on the realtime channel

package realtime

import "github.com/parleyhq/parley/internal/store"

// Event types delivered to clients
const (
	EventStatus  = "status"
	EventMessage = "message"
	EventError   = "error"
)

// Client command types
const (
	CommandJoinChat  = "join_chat"
	CommandLeaveChat = "leave_chat"
)

// StatusEvent announces connection and room lifecycle changes.
type StatusEvent struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// ErrorEvent reports a rejected client command.
type ErrorEvent struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// MessageEvent announces a newly persisted message to a session room.
type MessageEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Message   *store.Message `json:"message"`
}

// clientCommand is the envelope for commands read off the websocket.
type clientCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}
