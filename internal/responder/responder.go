// ABOUTME: Responder Gateway contract consumed by the conversation service
// ABOUTME: Defines the Turn history shape, the fallback reply and the session title helper

package responder

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the responder fails or times out.
// The conversation service recovers from it locally with FallbackReply; it is
// never surfaced as a request failure.
var ErrUnavailable = errors.New("responder unavailable")

// FallbackReply is the fixed substitute text used when the responder cannot
// produce a reply.
const FallbackReply = "Sorry, the assistant is temporarily unavailable."

// Turn is one prior exchange handed to the responder as context.
// An empty Reply means the responder had not produced one.
type Turn struct {
	Request string
	Reply   string
}

// Gateway is the external responder contract. Reply may block on network I/O
// and must honor ctx cancellation; implementations cap their own wait with a
// timeout and report failure as ErrUnavailable.
type Gateway interface {
	Reply(ctx context.Context, message string, history []Turn) (string, error)
}

// titleLimit is the rune budget for a seeded session title.
const titleLimit = 15

// SessionTitle derives a short session topic from the first message:
// the first 15 runes, with an ellipsis when truncated.
func SessionTitle(firstMessage string) string {
	runes := []rune(firstMessage)
	if len(runes) <= titleLimit {
		return firstMessage
	}
	return string(runes[:titleLimit]) + "..."
}
