// ABOUTME: Conversation Service is the central layer for session and message flow
// ABOUTME: All sends flow through here - the message log is the source of truth, not a side effect

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/realtime"
	"github.com/parleyhq/parley/internal/responder"
	"github.com/parleyhq/parley/internal/store"
)

// historyWindow bounds the recent history handed to the responder.
// The gateway is never given the unbounded log.
const historyWindow = 10

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateSession(ctx context.Context, session *store.Session) error
	GetSession(ctx context.Context, ownerID, sessionID string) (*store.Session, error)
	ListSessions(ctx context.Context, ownerID string) ([]*store.Session, error)
	SetTopic(ctx context.Context, ownerID, sessionID string, topic *string) error
	SetFeedback(ctx context.Context, ownerID, sessionID string, feedback *string) error
	SetContext(ctx context.Context, ownerID, sessionID string, contextMap map[string]any) error
	CloseSession(ctx context.Context, ownerID, sessionID string) error

	AppendMessage(ctx context.Context, msg *store.Message) error
	RecentMessages(ctx context.Context, ownerID, sessionID string, limit int) ([]*store.Message, error)
	ListMessages(ctx context.Context, ownerID, sessionID string) ([]*store.Message, error)
}

// Fanout defines what the service needs from the real-time layer.
// Broadcast is best-effort: delivery failures never fail a request.
type Fanout interface {
	Broadcast(room string, event any)
}

// Service orchestrates the send/receive flow: it resolves or creates the
// session, fetches bounded history, calls the responder gateway, persists the
// result and announces it to the session room.
type Service struct {
	store   ConversationStore
	gateway responder.Gateway
	fanout  Fanout
	merger  *ContextEngine
	logger  *slog.Logger
}

// New creates a new conversation Service. fanout may be nil when no real-time
// layer is attached (e.g. in tests).
func New(st ConversationStore, gateway responder.Gateway, fanout Fanout, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		gateway: gateway,
		fanout:  fanout,
		merger:  NewContextEngine(st),
		logger:  logger.With("component", "conversation"),
	}
}

// SendResult contains the outcome of a send. SessionID is always set, even
// when the session was created during this call, so the caller can persist it
// for subsequent turns.
type SendResult struct {
	SessionID string
	Message   *store.Message
}

// Send records a user message and its responder reply in one pass.
//
// If sessionID is empty a fresh session is created with a generated id and a
// topic seeded from the first message. A responder failure or timeout degrades
// to a fixed fallback reply; the user's message is always persisted.
func (s *Service) Send(ctx context.Context, ownerID, sessionID, message string) (*SendResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, store.ErrEmptyMessage
	}

	session, err := s.ensureSession(ctx, ownerID, sessionID, message)
	if err != nil {
		return nil, err
	}

	history, err := s.store.RecentMessages(ctx, ownerID, session.SessionID, historyWindow)
	if err != nil {
		return nil, err
	}

	reply, err := s.gateway.Reply(ctx, message, toTurns(history))
	if err != nil {
		// The responder being down is not the user's problem: degrade to the
		// fallback text and keep going. The failure stays observable here.
		s.logger.Warn("responder unavailable, using fallback reply",
			"error", err,
			"session_id", session.SessionID)
		reply = responder.FallbackReply
	}

	msg := &store.Message{
		OwnerID:     ownerID,
		SessionID:   session.SessionID,
		RequestText: message,
		ReplyText:   &reply,
		SenderKind:  store.SenderUser,
		Timestamp:   time.Now(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.Debug("message appended",
		"session_id", session.SessionID,
		"message_id", msg.ID)

	s.announce(session.SessionID, msg)

	return &SendResult{
		SessionID: session.SessionID,
		Message:   msg,
	}, nil
}

// History returns the full message log for a session, oldest first.
func (s *Service) History(ctx context.Context, ownerID, sessionID string) ([]*store.Message, error) {
	if _, err := s.store.GetSession(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, ownerID, sessionID)
}

// Sessions lists the owner's sessions, newest-created first.
func (s *Service) Sessions(ctx context.Context, ownerID string) ([]*store.Session, error) {
	return s.store.ListSessions(ctx, ownerID)
}

// GetSession returns one session scoped to its owner.
func (s *Service) GetSession(ctx context.Context, ownerID, sessionID string) (*store.Session, error) {
	return s.store.GetSession(ctx, ownerID, sessionID)
}

// SetTopic replaces the session topic; nil clears it.
func (s *Service) SetTopic(ctx context.Context, ownerID, sessionID string, topic *string) (*store.Session, error) {
	if err := s.store.SetTopic(ctx, ownerID, sessionID, topic); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, ownerID, sessionID)
}

// SetFeedback replaces the session feedback; nil clears it.
func (s *Service) SetFeedback(ctx context.Context, ownerID, sessionID string, feedback *string) (*store.Session, error) {
	if err := s.store.SetFeedback(ctx, ownerID, sessionID, feedback); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, ownerID, sessionID)
}

// CloseSession marks a session closed. The session and its messages remain
// readable; nothing is deleted.
func (s *Service) CloseSession(ctx context.Context, ownerID, sessionID string) (*store.Session, error) {
	if err := s.store.CloseSession(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, ownerID, sessionID)
}

// MergeContext applies a partial update to the session context and returns
// the resulting full map. See ContextEngine for the serialization guarantees.
func (s *Service) MergeContext(ctx context.Context, ownerID, sessionID string, partial map[string]any) (map[string]any, error) {
	return s.merger.Merge(ctx, ownerID, sessionID, partial)
}

// GetContext returns the stored context map, or an empty map if none is set.
func (s *Service) GetContext(ctx context.Context, ownerID, sessionID string) (map[string]any, error) {
	return s.merger.Get(ctx, ownerID, sessionID)
}

// ClearContext drops the whole context map.
func (s *Service) ClearContext(ctx context.Context, ownerID, sessionID string) error {
	return s.merger.Clear(ctx, ownerID, sessionID)
}

// ensureSession resolves an existing session or creates a fresh one.
//
// A send without a session id always starts a new session; a send with one
// must resolve it for the caller or fail with ErrNotFound. Creation is
// idempotent under races: concurrent creators hitting the same id converge on
// the single persisted row via insert-then-refetch, never read-then-write.
func (s *Service) ensureSession(ctx context.Context, ownerID, sessionID, firstMessage string) (*store.Session, error) {
	if sessionID != "" {
		return s.store.GetSession(ctx, ownerID, sessionID)
	}

	now := time.Now()
	topic := responder.SessionTitle(firstMessage)
	session := &store.Session{
		SessionID: uuid.New().String(),
		OwnerID:   ownerID,
		Status:    store.SessionStatusActive,
		Topic:     &topic,
		CreatedAt: now,
		StartTime: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		// Another request may have won the insert race on this id. Converge
		// on the winner's row instead of surfacing the conflict.
		if errors.Is(err, store.ErrSessionExists) {
			existing, lookupErr := s.store.GetSession(ctx, ownerID, session.SessionID)
			if lookupErr == nil {
				s.logger.Debug("found existing session after race", "session_id", existing.SessionID)
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, err
	}

	s.logger.Debug("session created", "session_id", session.SessionID, "owner_id", ownerID)
	return session, nil
}

// announce broadcasts the persisted message to the session room.
// Fire-and-forget relative to the request path.
func (s *Service) announce(sessionID string, msg *store.Message) {
	if s.fanout == nil {
		return
	}
	s.fanout.Broadcast(realtime.SessionRoom(sessionID), realtime.MessageEvent{
		Type:      realtime.EventMessage,
		SessionID: sessionID,
		Message:   msg,
	})
}

// toTurns converts stored messages into responder history turns
func toTurns(messages []*store.Message) []responder.Turn {
	turns := make([]responder.Turn, 0, len(messages))
	for _, msg := range messages {
		turn := responder.Turn{Request: msg.RequestText}
		if msg.ReplyText != nil {
			turn.Reply = *msg.ReplyText
		}
		turns = append(turns, turn)
	}
	return turns
}
