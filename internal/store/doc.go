// Package store provides persistent storage for parley using SQLite.
//
// # Architecture
//
// The package exposes a single Store interface covering sessions and their
// message logs. SQLiteStore is the only production implementation; tests that
// need failure injection supply their own Store.
//
// # Data Models
//
//   - Session: One conversation with an owner, a lifecycle status, optional
//     topic and feedback, and a free-form context map.
//   - Message: One user turn paired with its assistant reply. Message IDs are
//     SQLite rowids and strictly increase per insert.
//
// Every read and write is scoped by owner id. A lookup for a session the
// caller does not own behaves exactly like a lookup for a session that does
// not exist, so ownership cannot be probed.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as RFC 3339 text so lexical order matches time order.
// The context map is stored as a JSON blob; a blob that no longer parses
// surfaces as ErrDataCorruption rather than being silently replaced.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Session does not exist or belongs to someone else
//   - ErrSessionExists: Insert hit an existing session id
//   - ErrEmptyMessage: Message text was empty after trimming
//   - ErrDataCorruption: Stored context JSON failed to parse
//
// All methods accept context.Context for cancellation support.
package store
