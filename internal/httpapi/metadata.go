// ABOUTME: Handlers for per-session metadata: feedback, topic and context
// ABOUTME: Feedback and topic are full-replace fields; context updates merge

package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parleyhq/parley/internal/auth"
)

// FeedbackRequest is the JSON body for POST .../feedback.
type FeedbackRequest struct {
	Feedback *string `json:"feedback"`
}

// TopicRequest is the JSON body for POST .../topic.
type TopicRequest struct {
	Topic *string `json:"topic"`
}

// ContextRequest is the JSON body for POST .../context.
type ContextRequest struct {
	Context map[string]any `json:"context"`
}

// GetFeedback handles GET /session/:session_id/feedback.
func (h *Handler) GetFeedback(c echo.Context) error {
	session, err := h.svc.GetSession(c.Request().Context(), auth.OwnerID(c), c.Param("session_id"))
	if err != nil {
		return h.mapError(c, err, "feedback lookup failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"feedback": session.Feedback})
}

// SetFeedback handles POST /session/:session_id/feedback: full replace.
func (h *Handler) SetFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	session, err := h.svc.SetFeedback(c.Request().Context(), auth.OwnerID(c), c.Param("session_id"), req.Feedback)
	if err != nil {
		return h.mapError(c, err, "feedback update failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"feedback": session.Feedback})
}

// DeleteFeedback handles DELETE /session/:session_id/feedback.
func (h *Handler) DeleteFeedback(c echo.Context) error {
	_, err := h.svc.SetFeedback(c.Request().Context(), auth.OwnerID(c), c.Param("session_id"), nil)
	if err != nil {
		return h.mapError(c, err, "feedback delete failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"feedback": nil})
}

// GetTopic handles GET /session/:session_id/topic.
func (h *Handler) GetTopic(c echo.Context) error {
	session, err := h.svc.GetSession(c.Request().Context(), auth.OwnerID(c), c.Param("session_id"))
	if err != nil {
		return h.mapError(c, err, "topic lookup failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"topic": session.Topic})
}

// SetTopic handles POST /session/:session_id/topic: full replace.
func (h *Handler) SetTopic(c echo.Context) error {
	var req TopicRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	session, err := h.svc.SetTopic(c.Request().Context(), auth.OwnerID(c), c.Param("session_id"), req.Topic)
	if err != nil {
		return h.mapError(c, err, "topic update failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"topic": session.Topic})
}

// DeleteTopic handles DELETE /session/:session_id/topic.
func (h *Handler) DeleteTopic(c echo.Context) error {
	_, err := h.svc.SetTopic(c.Request().Context(), auth.OwnerID(c), c.Param("session_id"), nil)
	if err != nil {
		return h.mapError(c, err, "topic delete failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"topic": nil})
}

// GetContext handles GET /session/:session_id/context.
func (h *Handler) GetContext(c echo.Context) error {
	contextMap, err := h.svc.GetContext(c.Request().Context(), auth.OwnerID(c), c.Param("session_id"))
	if err != nil {
		return h.mapError(c, err, "context lookup failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"context": contextMap})
}

// SetContext handles POST /session/:session_id/context: a partial update
// merged key-wise onto the stored context.
func (h *Handler) SetContext(c echo.Context) error {
	var req ContextRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	merged, err := h.svc.MergeContext(c.Request().Context(), auth.OwnerID(c), c.Param("session_id"), req.Context)
	if err != nil {
		return h.mapError(c, err, "context merge failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"context": merged})
}

// DeleteContext handles DELETE /session/:session_id/context: clears fully.
func (h *Handler) DeleteContext(c echo.Context) error {
	if err := h.svc.ClearContext(c.Request().Context(), auth.OwnerID(c), c.Param("session_id")); err != nil {
		return h.mapError(c, err, "context delete failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"context": nil})
}
