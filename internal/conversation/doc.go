// Package conversation provides the high-level conversation service.
//
// # Overview
//
// The package sits between the HTTP/WebSocket surfaces and the storage and
// responder layers. Handlers stay thin: session resolution, history
// windowing, fallback behavior and context merging all live here.
//
// # Service
//
// The Service coordinates the send/receive flow:
//
//	svc := conversation.New(store, gateway, hub, logger)
//
// When a message arrives:
//
//  1. Resolve the session, or create one when no id was given
//  2. Fetch the bounded recent history window
//  3. Call the responder gateway; degrade to the fallback reply on failure
//  4. Persist the exchange in the message log
//  5. Announce the persisted message to the session room
//
// The message log is the source of truth: a turn that was persisted happened,
// whatever the responder or the fan-out layer did.
//
// # Session Creation
//
// A send without a session id always starts a fresh session with a generated
// UUID and a topic seeded from the first message. Creation is idempotent
// under races: the store rejects duplicate ids and the service converges on
// the winning row.
//
// # Context Merging
//
// ContextEngine applies partial updates to a session's context map as a
// shallow key-wise union under a per-session advisory lock, so concurrent
// merges of disjoint keys both survive. The engine never interprets the
// values it stores.
package conversation
