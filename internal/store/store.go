// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines Session, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist for the requesting
// owner. Sessions owned by another user deliberately look identical to missing
// ones so lookups never leak existence.
var ErrNotFound = errors.New("not found")

// ErrSessionExists is returned when trying to create a session whose id is
// already taken. Callers are expected to re-fetch and converge on the
// existing row rather than surfacing the conflict.
var ErrSessionExists = errors.New("session already exists")

// ErrEmptyMessage is returned when a message with blank request text is
// appended.
var ErrEmptyMessage = errors.New("message is empty")

// ErrDataCorruption is returned when a stored session context fails to parse
// as JSON. All context writers go through the merge engine, so this should
// never happen; it is surfaced loudly instead of being masked with an empty
// map.
var ErrDataCorruption = errors.New("stored session context is not valid JSON")

// Session status values
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// Sender kinds for messages
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// Session is one persistent conversation scope owned by a single user.
// SessionID is opaque, globally unique and immutable; OwnerID never changes.
type Session struct {
	SessionID string         `json:"session_id"`
	OwnerID   string         `json:"owner_id"`
	Status    string         `json:"status"`
	Topic     *string        `json:"topic"`
	Feedback  *string        `json:"feedback"`
	Context   map[string]any `json:"context"`
	CreatedAt time.Time      `json:"created_at"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time"`
}

// Message is one user-turn/responder-turn pair stored against a session.
// ID is assigned by the store and increases monotonically. Messages are
// append-only and never mutated after creation.
type Message struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"owner_id"`
	SessionID   string    `json:"session_id"`
	RequestText string    `json:"request_text"`
	ReplyText   *string   `json:"reply_text"`
	SenderKind  string    `json:"sender_kind"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store defines the interface for session and message persistence
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, ownerID, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, ownerID string) ([]*Session, error)
	SetTopic(ctx context.Context, ownerID, sessionID string, topic *string) error
	SetFeedback(ctx context.Context, ownerID, sessionID string, feedback *string) error
	SetContext(ctx context.Context, ownerID, sessionID string, contextMap map[string]any) error
	CloseSession(ctx context.Context, ownerID, sessionID string) error

	// Messages (append-only log)
	AppendMessage(ctx context.Context, msg *Message) error
	RecentMessages(ctx context.Context, ownerID, sessionID string, limit int) ([]*Message, error)
	ListMessages(ctx context.Context, ownerID, sessionID string) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
