// ABOUTME: JSON API handlers for the conversation service
// ABOUTME: Thin echo surface over send/history/sessions and the session metadata CRUD

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/store"
)

// Handler exposes the conversation service over HTTP. It carries no business
// logic: validation, concurrency and error recovery all live in the service.
type Handler struct {
	svc    *conversation.Service
	logger *slog.Logger
}

// NewHandler creates an API handler. Pass nil logger for default.
func NewHandler(svc *conversation.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:    svc,
		logger: logger.With("component", "httpapi"),
	}
}

// Register mounts the chat API routes on the given group.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/send", h.Send)
	g.GET("/history", h.History)
	g.GET("/sessions", h.Sessions)
	g.POST("/session/:session_id/close", h.CloseSession)

	g.GET("/session/:session_id/feedback", h.GetFeedback)
	g.POST("/session/:session_id/feedback", h.SetFeedback)
	g.DELETE("/session/:session_id/feedback", h.DeleteFeedback)

	g.GET("/session/:session_id/topic", h.GetTopic)
	g.POST("/session/:session_id/topic", h.SetTopic)
	g.DELETE("/session/:session_id/topic", h.DeleteTopic)

	g.GET("/session/:session_id/context", h.GetContext)
	g.POST("/session/:session_id/context", h.SetContext)
	g.DELETE("/session/:session_id/context", h.DeleteContext)
}

// SendRequest is the JSON request body for POST /send.
type SendRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// SendResponse is the JSON response for POST /send.
type SendResponse struct {
	SessionID string         `json:"session_id"`
	Message   *store.Message `json:"message"`
}

// Send handles POST /send: one user turn through the conversation service.
func (h *Handler) Send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	result, err := h.svc.Send(c.Request().Context(), auth.OwnerID(c), req.SessionID, req.Message)
	if err != nil {
		return h.mapError(c, err, "send failed")
	}

	return c.JSON(http.StatusOK, SendResponse{
		SessionID: result.SessionID,
		Message:   result.Message,
	})
}

// History handles GET /history?session_id=: the full message log, oldest first.
func (h *Handler) History(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("session_id is required"))
	}

	messages, err := h.svc.History(c.Request().Context(), auth.OwnerID(c), sessionID)
	if err != nil {
		return h.mapError(c, err, "history lookup failed")
	}
	if messages == nil {
		messages = []*store.Message{}
	}

	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// Sessions handles GET /sessions: the owner's sessions, newest first.
func (h *Handler) Sessions(c echo.Context) error {
	sessions, err := h.svc.Sessions(c.Request().Context(), auth.OwnerID(c))
	if err != nil {
		return h.mapError(c, err, "session listing failed")
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}

	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// CloseSession handles POST /session/:session_id/close.
func (h *Handler) CloseSession(c echo.Context) error {
	session, err := h.svc.CloseSession(c.Request().Context(), auth.OwnerID(c), c.Param("session_id"))
	if err != nil {
		return h.mapError(c, err, "session close failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"session": session})
}

// mapError translates service errors into HTTP responses.
// Anything outside the known taxonomy is a 500.
func (h *Handler) mapError(c echo.Context, err error, logMsg string) error {
	switch {
	case errors.Is(err, store.ErrEmptyMessage):
		return c.JSON(http.StatusBadRequest, errorBody("message must not be empty"))
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody("session not found"))
	case errors.Is(err, store.ErrDataCorruption):
		h.logger.Error(logMsg, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("session data corrupted"))
	default:
		h.logger.Error(logMsg, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
