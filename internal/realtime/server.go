// ABOUTME: WebSocket endpoint wiring connections into the fan-out hub
// ABOUTME: Auto-joins the principal's room on connect, admits session rooms after an ownership check

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/store"
)

const (
	writeTimeout   = 10 * time.Second
	readTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
)

// SessionResolver is the slice of the session store the endpoint needs to
// admit join_chat commands: the same ownership-scoped lookup the rest of the
// system uses.
type SessionResolver interface {
	GetSession(ctx context.Context, ownerID, sessionID string) (*store.Session, error)
}

// Server handles websocket upgrades and the per-connection command loop.
type Server struct {
	hub      *Hub
	sessions SessionResolver
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a websocket server backed by the given hub.
func NewServer(hub *Hub, sessions SessionResolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With("component", "realtime"),
	}
}

// HandleWebSocket upgrades the request and runs the connection lifecycle.
// The caller is already authenticated by the auth middleware; the connection
// auto-joins its owner's room and a status event confirms the connect.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ownerID := auth.OwnerID(c)

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return err
	}

	conn := s.hub.NewConnection(ownerID, ws)
	s.hub.Register(conn)
	s.hub.SendTo(conn, StatusEvent{Type: EventStatus, Msg: ownerID + " connected"})

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads client commands until the connection drops, then tears down
// all room memberships.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.ws.Close()
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(readTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "conn_id", conn.ID, "error", err)
			}
			return
		}
		s.handleCommand(conn, data)
	}
}

// writePump drains the connection's send channel and keeps the peer alive
// with pings.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case data, ok := <-conn.Send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand dispatches one client command.
func (s *Server) handleCommand(conn *Connection, data []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.hub.SendTo(conn, ErrorEvent{Type: EventError, Msg: "invalid command"})
		return
	}

	switch cmd.Type {
	case CommandJoinChat:
		s.handleJoinChat(conn, cmd.SessionID)
	case CommandLeaveChat:
		if cmd.SessionID != "" {
			s.hub.Leave(conn, SessionRoom(cmd.SessionID))
		}
	default:
		s.hub.SendTo(conn, ErrorEvent{Type: EventError, Msg: "unknown command type: " + cmd.Type})
	}
}

// handleJoinChat admits a connection to a session room after verifying the
// caller owns the session. Foreign and missing sessions are rejected alike.
func (s *Server) handleJoinChat(conn *Connection, sessionID string) {
	if sessionID == "" {
		s.hub.SendTo(conn, ErrorEvent{Type: EventError, Msg: "session_id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.sessions.GetSession(ctx, conn.OwnerID, sessionID); err != nil {
		s.logger.Debug("join_chat rejected",
			"conn_id", conn.ID,
			"session_id", sessionID,
			"error", err)
		s.hub.SendTo(conn, ErrorEvent{Type: EventError, Msg: "session not found"})
		return
	}

	s.hub.Join(conn, SessionRoom(sessionID))
	s.hub.SendTo(conn, StatusEvent{Type: EventStatus, Msg: "joined chat " + sessionID})
}
