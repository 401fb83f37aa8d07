// ABOUTME: In-memory room registry and fan-out hub for live connections
// ABOUTME: Tracks room membership and broadcasts JSON events to every member, best-effort

package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sendBufferSize is the per-connection outbound buffer. A connection that
// cannot drain its buffer is dropped rather than allowed to stall a broadcast.
const sendBufferSize = 64

// UserRoom names the per-principal room every connection auto-joins.
func UserRoom(ownerID string) string { return "user:" + ownerID }

// SessionRoom names the room carrying conversation-scoped events.
func SessionRoom(sessionID string) string { return "session:" + sessionID }

// Connection is one live client connection known to the hub.
type Connection struct {
	ID      string
	OwnerID string
	Send    chan []byte

	ws *websocket.Conn // nil in tests that drive Send directly
}

// Hub maintains room membership and delivers events to room members.
//
// The registry is process-local shared state: it is mutated only by
// register/join/leave/unregister and read by Broadcast. Delivery is
// best-effort with no cross-room ordering guarantee; within one connection,
// events arrive in send order.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Connection // room -> connID -> conn
	joined map[string]map[string]bool        // connID -> set of rooms
	conns  map[string]*Connection
	logger *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[string]*Connection),
		joined: make(map[string]map[string]bool),
		conns:  make(map[string]*Connection),
		logger: logger.With("component", "realtime"),
	}
}

// NewConnection creates a connection for the given owner.
func (h *Hub) NewConnection(ownerID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		Send:    make(chan []byte, sendBufferSize),
		ws:      ws,
	}
}

// Register adds a connection to the hub and auto-joins its owner's room.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.joined[conn.ID] = make(map[string]bool)
	h.joinLocked(conn, UserRoom(conn.OwnerID))
	h.mu.Unlock()

	h.logger.Debug("connection registered", "conn_id", conn.ID, "owner_id", conn.OwnerID)
}

// Unregister removes a connection from every room it joined and closes its
// send channel. Membership never outlives the connection.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	for room := range h.joined[conn.ID] {
		h.leaveLocked(conn, room)
	}
	delete(h.joined, conn.ID)
	delete(h.conns, conn.ID)
	close(conn.Send)

	h.logger.Debug("connection unregistered", "conn_id", conn.ID)
}

// Join adds the connection to a room.
func (h *Hub) Join(conn *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	h.joinLocked(conn, room)
}

// Leave removes the connection from a room.
func (h *Hub) Leave(conn *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conn, room)
}

func (h *Hub) joinLocked(conn *Connection, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Connection)
	}
	h.rooms[room][conn.ID] = conn
	h.joined[conn.ID][room] = true
}

func (h *Hub) leaveLocked(conn *Connection, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, conn.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if joined, ok := h.joined[conn.ID]; ok {
		delete(joined, room)
	}
}

// Broadcast delivers an event to every connection currently joined to the
// room. Non-blocking: members whose buffers are full have the event dropped.
func (h *Hub) Broadcast(room string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode broadcast event", "room", room, "error", err)
		return
	}

	// Sends stay under the read lock: Unregister closes Send under the write
	// lock, so a member channel can never be closed mid-broadcast. Sends are
	// non-blocking, so the lock is held only briefly.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.rooms[room] {
		select {
		case conn.Send <- data:
		default:
			h.logger.Debug("dropped event for slow connection",
				"room", room,
				"conn_id", conn.ID)
		}
	}
}

// SendTo delivers an event to a single connection, best-effort.
func (h *Hub) SendTo(conn *Connection, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", "conn_id", conn.ID, "error", err)
		return
	}
	select {
	case conn.Send <- data:
	default:
		h.logger.Debug("dropped event for slow connection", "conn_id", conn.ID)
	}
}

// RoomSize reports the number of connections joined to a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
