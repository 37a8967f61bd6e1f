package relay

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/session"
)

// recordingBus captures emitted events for assertions.
type recordingBus struct {
	events   []Event
	excludes [][]string
}

func (b *recordingBus) Emit(event Event, exclude ...string) {
	b.events = append(b.events, event)
	b.excludes = append(b.excludes, exclude)
}

func (b *recordingBus) EmitTo(userID string, event Event) {
	b.events = append(b.events, event)
	b.excludes = append(b.excludes, nil)
}

func newTestRelay() (*Relay, *session.Registry, *recordingBus) {
	sessions := session.NewRegistry()
	bus := &recordingBus{}
	return NewRelay(sessions, bus, zap.NewNop()), sessions, bus
}

func TestSendRequiresAuth(t *testing.T) {
	r, _, bus := newTestRelay()

	err := r.Send(context.Background(), "conn1", "hello")
	assert.Equal(t, errors.CodeLoginOrRegisterRequired, errors.CodeOf(err))
	assert.Empty(t, bus.events, "unauthenticated message must never broadcast")
}

func TestSendLengthLimit(t *testing.T) {
	r, sessions, bus := newTestRelay()
	sessions.Bind("alice", "conn1")

	t.Run("exactly 160 characters succeeds", func(t *testing.T) {
		require.NoError(t, r.Send(context.Background(), "conn1", strings.Repeat("x", 160)))
		assert.Len(t, bus.events, 1)
	})

	t.Run("161 characters fails", func(t *testing.T) {
		err := r.Send(context.Background(), "conn1", strings.Repeat("x", 161))
		assert.Equal(t, errors.CodeMessageTooLong, errors.CodeOf(err))
		assert.Len(t, bus.events, 1, "no extra broadcast")
	})

	t.Run("limit counts characters, not bytes", func(t *testing.T) {
		require.NoError(t, r.Send(context.Background(), "conn1", strings.Repeat("é", 160)))
		assert.Len(t, bus.events, 2)

		err := r.Send(context.Background(), "conn1", strings.Repeat("é", 161))
		assert.Equal(t, errors.CodeMessageTooLong, errors.CodeOf(err))
	})
}

func TestSendEmptyMessageSilentlyIgnored(t *testing.T) {
	r, sessions, bus := newTestRelay()
	sessions.Bind("alice", "conn1")

	require.NoError(t, r.Send(context.Background(), "conn1", ""))
	assert.Empty(t, bus.events)
}

func TestSendExcludesAllSenderConnections(t *testing.T) {
	r, sessions, bus := newTestRelay()
	sessions.Bind("alice", "conn1")
	sessions.Bind("alice", "conn2")
	sessions.Bind("bob", "conn3")

	require.NoError(t, r.Send(context.Background(), "conn1", "hello"))

	require.Len(t, bus.events, 1)
	assert.Equal(t, "message", bus.events[0].Name)
	assert.Equal(t, []interface{}{"hello", "alice"}, bus.events[0].Args)
	assert.ElementsMatch(t, []string{"conn1", "conn2"}, bus.excludes[0])
}
