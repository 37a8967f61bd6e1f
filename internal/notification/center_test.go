package notification

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/models"
	"github.com/totem-tech/messaging/internal/relay"
	"github.com/totem-tech/messaging/internal/session"
	"github.com/totem-tech/messaging/internal/storage"
)

// recordingBus captures emitted events for assertions.
type recordingBus struct {
	perUser map[string][]relay.Event
}

func (b *recordingBus) Emit(event relay.Event, exclude ...string) {}

func (b *recordingBus) EmitTo(userID string, event relay.Event) {
	if b.perUser == nil {
		b.perUser = make(map[string][]relay.Event)
	}
	b.perUser[userID] = append(b.perUser[userID], event)
}

type testEnv struct {
	center   *Center
	sessions *session.Registry
	bus      *recordingBus
	pending  *storage.Collection[models.PendingIndex]
}

func newTestCenter(t *testing.T, registry *Registry) *testEnv {
	t.Helper()

	dir := t.TempDir()
	open := func(name string) storage.Store {
		s, err := storage.NewFileStore(filepath.Join(dir, name+".json"), storage.CacheAll, zap.NewNop())
		require.NoError(t, err)
		return s
	}

	notifications := storage.NewCollection[models.Notification](open("notifications"))
	pending := storage.NewCollection[models.PendingIndex](open("notification-receivers"))
	sessions := session.NewRegistry()
	bus := &recordingBus{}

	return &testEnv{
		center:   NewCenter(registry, notifications, pending, sessions, bus, zap.NewNop()),
		sessions: sessions,
		bus:      bus,
		pending:  pending,
	}
}

func plainRegistry() *Registry {
	r := NewRegistry()
	r.Register("chat", "referral", TypeSpec{MessageRequired: true})
	r.Register("identity", "share", TypeSpec{DataFields: []string{"address"}})
	return r
}

func TestNotifyValidation(t *testing.T) {
	env := newTestCenter(t, plainRegistry())
	ctx := context.Background()

	tests := []struct {
		name       string
		recipients []string
		parent     string
		child      string
		message    string
		data       map[string]interface{}
		wantCode   errors.Code
	}{
		{
			name:     "empty recipients",
			parent:   "chat",
			child:    "referral",
			message:  "hi",
			wantCode: errors.CodeInvalidPayload,
		},
		{
			name:       "unknown type",
			recipients: []string{"bob"},
			parent:     "nope",
			child:      "referral",
			wantCode:   errors.CodeInvalidPayload,
		},
		{
			name:       "unknown child type",
			recipients: []string{"bob"},
			parent:     "chat",
			child:      "nope",
			wantCode:   errors.CodeInvalidPayload,
		},
		{
			name:       "missing required message",
			recipients: []string{"bob"},
			parent:     "chat",
			child:      "referral",
			message:    "",
			wantCode:   errors.CodeInvalidPayload,
		},
		{
			name:       "missing required data field",
			recipients: []string{"bob"},
			parent:     "identity",
			child:      "share",
			data:       map[string]interface{}{"other": 1},
			wantCode:   errors.CodeInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.center.Notify(ctx, "alice", tt.recipients, tt.parent, tt.child, tt.message, tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
			assert.Empty(t, env.bus.perUser, "vetoed notifications must not be delivered")
		})
	}
}

func TestNotifyDeliversToOnlineRecipient(t *testing.T) {
	env := newTestCenter(t, plainRegistry())
	ctx := context.Background()

	env.sessions.Bind("bob", "conn1")

	require.NoError(t, env.center.Notify(ctx, "alice", []string{"bob"}, "chat", "referral", "join us", nil))

	events := env.bus.perUser["bob"]
	require.Len(t, events, 1)
	assert.Equal(t, EventName, events[0].Name)
	assert.Equal(t, "alice", events[0].Args[0])
	assert.Equal(t, "chat", events[0].Args[1])
	assert.Equal(t, "referral", events[0].Args[2])
	assert.Equal(t, "join us", events[0].Args[3])

	// Delivered immediately, so nothing remains queued.
	_, found, err := env.pending.Get(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNotifyQueuesForOfflineRecipient(t *testing.T) {
	env := newTestCenter(t, plainRegistry())
	ctx := context.Background()

	require.NoError(t, env.center.Notify(ctx, "alice", []string{"bob"}, "chat", "referral", "welcome", nil))

	assert.Empty(t, env.bus.perUser["bob"])

	index, found, err := env.pending.Get(ctx, "bob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, index.NotificationIDs, 1)
}

func TestDeliverPendingClearsQueueExactlyOnce(t *testing.T) {
	env := newTestCenter(t, plainRegistry())
	ctx := context.Background()

	require.NoError(t, env.center.Notify(ctx, "alice", []string{"bob"}, "chat", "referral", "first", nil))
	require.NoError(t, env.center.Notify(ctx, "alice", []string{"bob"}, "chat", "referral", "second", nil))

	env.sessions.Bind("bob", "conn1")
	env.center.DeliverPending(ctx, "bob")

	require.Len(t, env.bus.perUser["bob"], 2)
	_, found, err := env.pending.Get(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, found, "queue must be cleared after delivery")

	// A second delivery pass must not re-deliver anything.
	env.center.DeliverPending(ctx, "bob")
	assert.Len(t, env.bus.perUser["bob"], 2)
}

func TestNotifyMixedOnlineOffline(t *testing.T) {
	env := newTestCenter(t, plainRegistry())
	ctx := context.Background()

	env.sessions.Bind("bob", "conn1")

	require.NoError(t, env.center.Notify(ctx, "alice", []string{"bob", "carol"}, "chat", "referral", "hello", nil))

	assert.Len(t, env.bus.perUser["bob"], 1)
	assert.Empty(t, env.bus.perUser["carol"])

	index, found, err := env.pending.Get(ctx, "carol")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, index.NotificationIDs, 1)
}

func TestNotifyRecoversFromPanickingHook(t *testing.T) {
	registry := NewRegistry()
	registry.Register("boom", "now", TypeSpec{
		Handle: func(ctx context.Context, req *Request) error {
			panic("hook exploded")
		},
	})
	env := newTestCenter(t, registry)

	err := env.center.Notify(context.Background(), "alice", []string{"bob"}, "boom", "now", "", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInternal, errors.CodeOf(err))
}

func TestNotifyHookVeto(t *testing.T) {
	registry := NewRegistry()
	veto := errors.NewBanned("bob")
	registry.Register("guarded", "op", TypeSpec{
		Handle: func(ctx context.Context, req *Request) error {
			return veto
		},
	})
	env := newTestCenter(t, registry)
	ctx := context.Background()

	err := env.center.Notify(ctx, "alice", []string{"bob"}, "guarded", "op", "", nil)
	assert.Equal(t, errors.CodeBanned, errors.CodeOf(err))

	// Nothing persisted, nothing queued.
	_, found, getErr := env.pending.Get(ctx, "bob")
	require.NoError(t, getErr)
	assert.False(t, found)
}
