// ABOUTME: Tests for the conversation Service
// ABOUTME: Verifies session resolution, history windowing, fallback replies and fanout announcements

package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/realtime"
	"github.com/parleyhq/parley/internal/responder"
	"github.com/parleyhq/parley/internal/store"
)

// mockGateway implements responder.Gateway for testing
type mockGateway struct {
	mu          sync.Mutex
	reply       string
	err         error
	calls       int
	lastMessage string
	lastHistory []responder.Turn
}

func (m *mockGateway) Reply(ctx context.Context, message string, history []responder.Turn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMessage = message
	m.lastHistory = history
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

// recordingFanout captures broadcasts for inspection
type recordingFanout struct {
	mu     sync.Mutex
	rooms  []string
	events []any
}

func (f *recordingFanout) Broadcast(room string, event any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, room)
	f.events = append(f.events, event)
}

func newTestService(t *testing.T, gateway responder.Gateway, fanout Fanout) (*Service, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, gateway, fanout, nil), st
}

func TestSend_NewSessionCreated(t *testing.T) {
	gateway := &mockGateway{reply: "hi!"}
	svc, st := newTestService(t, gateway, nil)
	ctx := context.Background()

	result, err := svc.Send(ctx, "alice", "", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, result.SessionID)
	require.NotNil(t, result.Message)
	assert.Equal(t, "hello", result.Message.RequestText)
	require.NotNil(t, result.Message.ReplyText)
	assert.Equal(t, "hi!", *result.Message.ReplyText)

	// The returned session id resolves back to exactly one session and message
	session, err := st.GetSession(ctx, "alice", result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusActive, session.Status)
	require.NotNil(t, session.Topic)
	assert.Equal(t, "hello", *session.Topic, "topic seeded from first message")

	messages, err := st.ListMessages(ctx, "alice", result.SessionID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestSend_OmittedSessionIDAlwaysStartsFresh(t *testing.T) {
	gateway := &mockGateway{reply: "ok"}
	svc, st := newTestService(t, gateway, nil)
	ctx := context.Background()

	first, err := svc.Send(ctx, "alice", "", "one")
	require.NoError(t, err)
	second, err := svc.Send(ctx, "alice", "", "two")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	sessions, err := st.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSend_ExistingSessionPassesHistory(t *testing.T) {
	gateway := &mockGateway{reply: "reply"}
	svc, _ := newTestService(t, gateway, nil)
	ctx := context.Background()

	first, err := svc.Send(ctx, "alice", "", "hello")
	require.NoError(t, err)

	_, err = svc.Send(ctx, "alice", first.SessionID, "again")
	require.NoError(t, err)

	assert.Equal(t, "again", gateway.lastMessage)
	require.Len(t, gateway.lastHistory, 1, "one prior turn handed to the responder")
	assert.Equal(t, "hello", gateway.lastHistory[0].Request)
	assert.Equal(t, "reply", gateway.lastHistory[0].Reply)
}

func TestSend_HistoryWindowCapped(t *testing.T) {
	gateway := &mockGateway{reply: "r"}
	svc, _ := newTestService(t, gateway, nil)
	ctx := context.Background()

	first, err := svc.Send(ctx, "alice", "", "m0")
	require.NoError(t, err)
	for i := 1; i < 14; i++ {
		_, err := svc.Send(ctx, "alice", first.SessionID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	_, err = svc.Send(ctx, "alice", first.SessionID, "final")
	require.NoError(t, err)
	assert.Len(t, gateway.lastHistory, 10, "responder never sees more than the window")
	assert.Equal(t, "m4", gateway.lastHistory[0].Request, "window holds the most recent turns")
}

func TestSend_UnknownSessionID(t *testing.T) {
	gateway := &mockGateway{reply: "r"}
	svc, _ := newTestService(t, gateway, nil)

	_, err := svc.Send(context.Background(), "alice", "missing", "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSend_ForeignSessionRejected(t *testing.T) {
	gateway := &mockGateway{reply: "r"}
	svc, _ := newTestService(t, gateway, nil)
	ctx := context.Background()

	result, err := svc.Send(ctx, "alice", "", "hello")
	require.NoError(t, err)

	_, err = svc.Send(ctx, "bob", result.SessionID, "sneaky")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSend_EmptyMessageRejectedWithoutSideEffects(t *testing.T) {
	gateway := &mockGateway{reply: "r"}
	svc, st := newTestService(t, gateway, nil)
	ctx := context.Background()

	_, err := svc.Send(ctx, "alice", "", "   ")
	assert.ErrorIs(t, err, store.ErrEmptyMessage)
	assert.Equal(t, 0, gateway.calls)

	sessions, err := st.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSend_GatewayFailureFallsBack(t *testing.T) {
	gateway := &mockGateway{err: responder.ErrUnavailable}
	svc, st := newTestService(t, gateway, nil)
	ctx := context.Background()

	result, err := svc.Send(ctx, "alice", "", "hello")
	require.NoError(t, err, "responder failure must not fail the request")
	require.NotNil(t, result.Message.ReplyText)
	assert.Equal(t, responder.FallbackReply, *result.Message.ReplyText)

	// The user's message is persisted despite the failure
	messages, err := st.ListMessages(ctx, "alice", result.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].RequestText)
}

func TestSend_AnnouncesToSessionRoom(t *testing.T) {
	gateway := &mockGateway{reply: "hi"}
	fanout := &recordingFanout{}
	svc, _ := newTestService(t, gateway, fanout)

	result, err := svc.Send(context.Background(), "alice", "", "hello")
	require.NoError(t, err)

	require.Len(t, fanout.rooms, 1)
	assert.Equal(t, realtime.SessionRoom(result.SessionID), fanout.rooms[0])
	event, ok := fanout.events[0].(realtime.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, realtime.EventMessage, event.Type)
	assert.Equal(t, result.SessionID, event.SessionID)
	assert.Equal(t, result.Message.ID, event.Message.ID)
}

func TestSend_ConcurrentSendsAllPersist(t *testing.T) {
	gateway := &mockGateway{reply: "r"}
	svc, st := newTestService(t, gateway, nil)
	ctx := context.Background()

	first, err := svc.Send(ctx, "alice", "", "seed")
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	sendErrs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, sendErrs[i] = svc.Send(ctx, "alice", first.SessionID, fmt.Sprintf("concurrent %d", i))
		}(i)
	}
	wg.Wait()

	for _, err := range sendErrs {
		require.NoError(t, err)
	}

	messages, err := st.ListMessages(ctx, "alice", first.SessionID)
	require.NoError(t, err)
	assert.Len(t, messages, n+1, "no lost appends under concurrency")
}

func TestHistory(t *testing.T) {
	gateway := &mockGateway{reply: "r"}
	svc, _ := newTestService(t, gateway, nil)
	ctx := context.Background()

	result, err := svc.Send(ctx, "alice", "", "one")
	require.NoError(t, err)
	_, err = svc.Send(ctx, "alice", result.SessionID, "two")
	require.NoError(t, err)

	messages, err := svc.History(ctx, "alice", result.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "one", messages[0].RequestText)
	assert.Equal(t, "two", messages[1].RequestText)

	_, err = svc.History(ctx, "bob", result.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCloseSession(t *testing.T) {
	gateway := &mockGateway{reply: "r"}
	svc, _ := newTestService(t, gateway, nil)
	ctx := context.Background()

	result, err := svc.Send(ctx, "alice", "", "hello")
	require.NoError(t, err)

	session, err := svc.CloseSession(ctx, "alice", result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusClosed, session.Status)
	assert.NotNil(t, session.EndTime)

	// History stays readable after close
	messages, err := svc.History(ctx, "alice", result.SessionID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestSetFeedbackAndTopic(t *testing.T) {
	gateway := &mockGateway{reply: "r"}
	svc, _ := newTestService(t, gateway, nil)
	ctx := context.Background()

	result, err := svc.Send(ctx, "alice", "", "hello")
	require.NoError(t, err)

	feedback := "great"
	session, err := svc.SetFeedback(ctx, "alice", result.SessionID, &feedback)
	require.NoError(t, err)
	require.NotNil(t, session.Feedback)
	assert.Equal(t, "great", *session.Feedback)

	session, err = svc.SetFeedback(ctx, "alice", result.SessionID, nil)
	require.NoError(t, err)
	assert.Nil(t, session.Feedback)

	_, err = svc.SetFeedback(ctx, "bob", result.SessionID, &feedback)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureSession_RaceConvergesOnWinner(t *testing.T) {
	// Generated ids never collide in practice, so force the lost-race path:
	// the insert reports a duplicate and the service must converge on the
	// winner's row instead of surfacing the conflict.
	gateway := &mockGateway{reply: "r"}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	race := &duplicatingStore{SQLiteStore: st}
	svc := New(race, gateway, nil, nil)
	ctx := context.Background()

	result, err := svc.Send(ctx, "alice", "", "hello")
	require.NoError(t, err)
	assert.Equal(t, race.winnerID, result.SessionID, "lost race resolves to the winner's session")
}

// duplicatingStore makes every CreateSession lose a race: it persists the row
// under the caller's id, then reports a duplicate.
type duplicatingStore struct {
	*store.SQLiteStore
	winnerID string
}

func (d *duplicatingStore) CreateSession(ctx context.Context, session *store.Session) error {
	if err := d.SQLiteStore.CreateSession(ctx, session); err != nil {
		return err
	}
	d.winnerID = session.SessionID
	return store.ErrSessionExists
}

func TestEnsureSession_CreateFailurePropagates(t *testing.T) {
	gateway := &mockGateway{reply: "r"}
	failing := &failingStore{err: errors.New("disk on fire")}
	svc := New(failing, gateway, nil, nil)

	_, err := svc.Send(context.Background(), "alice", "", "hello")
	assert.ErrorContains(t, err, "disk on fire")
}

// failingStore fails every operation with a fixed error
type failingStore struct {
	err error
}

func (f *failingStore) CreateSession(context.Context, *store.Session) error { return f.err }
func (f *failingStore) GetSession(context.Context, string, string) (*store.Session, error) {
	return nil, f.err
}
func (f *failingStore) ListSessions(context.Context, string) ([]*store.Session, error) {
	return nil, f.err
}
func (f *failingStore) SetTopic(context.Context, string, string, *string) error    { return f.err }
func (f *failingStore) SetFeedback(context.Context, string, string, *string) error { return f.err }
func (f *failingStore) SetContext(context.Context, string, string, map[string]any) error {
	return f.err
}
func (f *failingStore) CloseSession(context.Context, string, string) error { return f.err }
func (f *failingStore) AppendMessage(context.Context, *store.Message) error {
	return f.err
}
func (f *failingStore) RecentMessages(context.Context, string, string, int) ([]*store.Message, error) {
	return nil, f.err
}
func (f *failingStore) ListMessages(context.Context, string, string) ([]*store.Message, error) {
	return nil, f.err
}
