// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Concurrent writers wait for the lock instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'active',
			topic      TEXT,
			feedback   TEXT,
			context    TEXT,
			created_at TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time   TEXT,

			CHECK (status IN ('active', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_owner_created
			ON sessions(owner_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id     TEXT NOT NULL,
			session_id   TEXT NOT NULL,
			request_text TEXT NOT NULL,
			reply_text   TEXT,
			sender_kind  TEXT NOT NULL DEFAULT 'user',
			timestamp    TEXT NOT NULL,

			FOREIGN KEY (session_id) REFERENCES sessions(session_id),
			CHECK (sender_kind IN ('user', 'assistant', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_timestamp
			ON messages(owner_id, session_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateSession inserts a new session row.
// Returns ErrSessionExists if the session_id is already taken; the insert is
// atomic against concurrent creators racing on the same id, so losers can
// simply re-fetch the winner's row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	contextJSON, err := marshalContext(session.Context)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}

	query := `
		INSERT INTO sessions (session_id, owner_id, status, topic, feedback, context, created_at, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	status := session.Status
	if status == "" {
		status = SessionStatusActive
	}

	_, err = s.db.ExecContext(ctx, query,
		session.SessionID,
		session.OwnerID,
		status,
		nullableString(session.Topic),
		nullableString(session.Feedback),
		contextJSON,
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.StartTime.UTC().Format(time.RFC3339),
		nullableTime(session.EndTime),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "session_id", session.SessionID, "owner_id", session.OwnerID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetSession retrieves a session by id, scoped to its owner.
// The ownership check is part of the lookup itself: a session owned by a
// different user returns ErrNotFound, indistinguishable from a missing one.
func (s *SQLiteStore) GetSession(ctx context.Context, ownerID, sessionID string) (*Session, error) {
	query := `
		SELECT session_id, owner_id, status, topic, feedback, context, created_at, start_time, end_time
		FROM sessions
		WHERE session_id = ? AND owner_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, sessionID, ownerID)
	session, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns all sessions for an owner, newest-created first.
func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string) ([]*Session, error) {
	query := `
		SELECT session_id, owner_id, status, topic, feedback, context, created_at, start_time, end_time
		FROM sessions
		WHERE owner_id = ?
		ORDER BY created_at DESC, session_id
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// scanSession scans one session row from either a *sql.Row or *sql.Rows scan func
func scanSession(scan func(dest ...any) error) (*Session, error) {
	var session Session
	var topic, feedback, contextJSON, endTimeStr sql.NullString
	var createdAtStr, startTimeStr string

	err := scan(
		&session.SessionID,
		&session.OwnerID,
		&session.Status,
		&topic,
		&feedback,
		&contextJSON,
		&createdAtStr,
		&startTimeStr,
		&endTimeStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}

	if topic.Valid {
		session.Topic = &topic.String
	}
	if feedback.Valid {
		session.Feedback = &feedback.String
	}
	if contextJSON.Valid {
		var contextMap map[string]any
		if err := json.Unmarshal([]byte(contextJSON.String), &contextMap); err != nil {
			return nil, fmt.Errorf("%w: session %s: %v", ErrDataCorruption, session.SessionID, err)
		}
		session.Context = contextMap
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	session.StartTime, err = time.Parse(time.RFC3339, startTimeStr)
	if err != nil {
		return nil, fmt.Errorf("parsing start_time: %w", err)
	}
	if endTimeStr.Valid {
		t, err := time.Parse(time.RFC3339, endTimeStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing end_time: %w", err)
		}
		session.EndTime = &t
	}

	return &session, nil
}

// SetTopic replaces the session topic. A nil topic clears the field.
func (s *SQLiteStore) SetTopic(ctx context.Context, ownerID, sessionID string, topic *string) error {
	return s.updateSessionField(ctx, ownerID, sessionID, "topic", nullableString(topic))
}

// SetFeedback replaces the session feedback. A nil feedback clears the field.
func (s *SQLiteStore) SetFeedback(ctx context.Context, ownerID, sessionID string, feedback *string) error {
	return s.updateSessionField(ctx, ownerID, sessionID, "feedback", nullableString(feedback))
}

// SetContext replaces the stored session context with the given map.
// A nil map clears the context. Callers that need partial updates must go
// through the merge engine, which serializes read-modify-write cycles.
func (s *SQLiteStore) SetContext(ctx context.Context, ownerID, sessionID string, contextMap map[string]any) error {
	contextJSON, err := marshalContext(contextMap)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	return s.updateSessionField(ctx, ownerID, sessionID, "context", contextJSON)
}

// CloseSession marks a session closed and records its end time.
// Sessions are never physically deleted.
func (s *SQLiteStore) CloseSession(ctx context.Context, ownerID, sessionID string) error {
	query := `
		UPDATE sessions
		SET status = ?, end_time = ?
		WHERE session_id = ? AND owner_id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		SessionStatusClosed,
		time.Now().UTC().Format(time.RFC3339),
		sessionID,
		ownerID,
	)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("closed session", "session_id", sessionID)
	return nil
}

// updateSessionField updates a single nullable column on an owner's session
func (s *SQLiteStore) updateSessionField(ctx context.Context, ownerID, sessionID, column string, value any) error {
	query := fmt.Sprintf(`UPDATE sessions SET %s = ? WHERE session_id = ? AND owner_id = ?`, column)

	result, err := s.db.ExecContext(ctx, query, value, sessionID, ownerID)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", column, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated session field", "session_id", sessionID, "field", column)
	return nil
}

// AppendMessage saves a message to the log and fills in its assigned id.
// Returns ErrEmptyMessage for blank request text and ErrNotFound if the session
// does not resolve for the owner.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if strings.TrimSpace(msg.RequestText) == "" {
		return ErrEmptyMessage
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = ? AND owner_id = ?`,
		msg.SessionID, msg.OwnerID,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolving session: %w", err)
	}

	senderKind := msg.SenderKind
	if senderKind == "" {
		senderKind = SenderUser
	}

	query := `
		INSERT INTO messages (owner_id, session_id, request_text, reply_text, sender_kind, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		msg.OwnerID,
		msg.SessionID,
		msg.RequestText,
		nullableString(msg.ReplyText),
		senderKind,
		msg.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting message id: %w", err)
	}
	msg.ID = id
	msg.SenderKind = senderKind

	s.logger.Debug("appended message", "id", id, "session_id", msg.SessionID)
	return nil
}

// RecentMessages retrieves the `limit` most recent messages for a session,
// returned in chronological order (oldest first) so they can be fed directly
// as conversational context. Timestamp ties break on id order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, ownerID, sessionID string, limit int) ([]*Message, error) {
	// Get the N most recent messages, but return them in chronological order.
	// A subquery selects the newest N, the outer query re-sorts ascending.
	query := `
		SELECT id, owner_id, session_id, request_text, reply_text, sender_kind, timestamp
		FROM (
			SELECT id, owner_id, session_id, request_text, reply_text, sender_kind, timestamp
			FROM messages
			WHERE owner_id = ? AND session_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, id ASC
	`

	return s.queryMessages(ctx, query, ownerID, sessionID, limit)
}

// ListMessages retrieves all messages for a session, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, ownerID, sessionID string) ([]*Message, error) {
	query := `
		SELECT id, owner_id, session_id, request_text, reply_text, sender_kind, timestamp
		FROM messages
		WHERE owner_id = ? AND session_id = ?
		ORDER BY timestamp ASC, id ASC
	`

	return s.queryMessages(ctx, query, ownerID, sessionID)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var replyText sql.NullString
		var timestampStr string

		if err := rows.Scan(&msg.ID, &msg.OwnerID, &msg.SessionID, &msg.RequestText, &replyText, &msg.SenderKind, &timestampStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		if replyText.Valid {
			msg.ReplyText = &replyText.String
		}

		msg.Timestamp, err = time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// marshalContext encodes a context map as JSON, mapping empty to NULL
func marshalContext(contextMap map[string]any) (any, error) {
	if len(contextMap) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(contextMap)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// nullableString returns nil for nil pointers, otherwise the string value
func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// nullableTime returns nil for nil times, otherwise an RFC3339 string
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
