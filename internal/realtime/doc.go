// Package realtime provides websocket fan-out of conversation events.
//
// # Hub
//
// The Hub tracks live connections and their room memberships. Every
// connection auto-joins its owner's room on register; session rooms are
// joined on request after an ownership check.
//
// Room names:
//
//   - user:<owner_id>: Per-principal room, joined automatically
//   - session:<session_id>: Conversation room carrying message events
//
// # Delivery
//
// Broadcast is best-effort. Sends are non-blocking; a connection whose
// buffer is full has the event dropped rather than stalling the room.
// Within one connection, events arrive in send order. There is no
// cross-connection ordering guarantee and no persistence: the message log
// is the source of truth, the fan-out is advisory.
//
// # Client Commands
//
// Clients send JSON commands over the socket:
//
//	{"type": "join_chat", "session_id": "..."}
//	{"type": "leave_chat", "session_id": "..."}
//
// join_chat is admitted only when the authenticated owner owns the session;
// foreign and missing sessions are rejected with the same error event.
package realtime
