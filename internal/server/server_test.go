package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/config"
	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/faucet"
	"github.com/totem-tech/messaging/internal/models"
	"github.com/totem-tech/messaging/internal/notification"
	"github.com/totem-tech/messaging/internal/records"
	"github.com/totem-tech/messaging/internal/relay"
	"github.com/totem-tech/messaging/internal/session"
	"github.com/totem-tech/messaging/internal/storage"
	"github.com/totem-tech/messaging/internal/user"
)

// fundingSender answers every faucet request with a fixed transaction hash.
type fundingSender struct{}

func (fundingSender) Send(ctx context.Context, sealed []byte) (faucet.Reply, error) {
	return faucet.Reply{TxHash: "0xtest"}, nil
}

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

// testStack is a fully wired server on file storage plus a fake faucet.
type testStack struct {
	ts       *httptest.Server
	sessions *session.Registry
}

func newTestStack(t *testing.T, rateCfg config.RateLimitConfig) *testStack {
	t.Helper()

	dir := t.TempDir()
	logger := zap.NewNop()
	open := func(name string) storage.Store {
		store, err := storage.NewFileStore(filepath.Join(dir, name+".json"), storage.CacheAll, logger)
		require.NoError(t, err)
		return store
	}

	sessions := session.NewRegistry()
	hub := NewHub(sessions, logger)

	directory := user.NewDirectory(storage.NewCollection[models.User](open("users")), sessions, logger)
	chat := relay.NewRelay(sessions, hub, logger)
	projects := records.NewProjectService(storage.NewCollection[models.Project](open("projects")), logger)
	companies := records.NewCompanyService(storage.NewCollection[models.Company](open("companies")), logger)
	timeKeeping := records.NewTimeKeepingService(storage.NewCollection[models.TimeKeepingEntry](open("time-keeping")), logger)

	center := notification.NewCenter(
		notification.DefaultRegistry(projects),
		storage.NewCollection[models.Notification](open("notifications")),
		storage.NewCollection[models.PendingIndex](open("notification-receivers")),
		sessions, hub, logger,
	)
	directory.OnLogin(center.DeliverPending)

	keys, err := faucet.DeriveKeys([]byte(strings.Repeat("k", 32)), "alpha")
	require.NoError(t, err)
	gate := faucet.NewGate(
		config.FaucetConfig{RequestLimit: 5, Window: 24 * time.Hour, InProgressTimeout: 15 * time.Minute, ReplyTimeout: time.Second},
		keys, "alpha", make([]byte, 32),
		storage.NewCollection[models.FaucetHistory](open("faucet-requests")),
		fundingSender{}, logger,
	)

	srv := New(
		config.ServerConfig{Host: "127.0.0.1", Port: "0"},
		rateCfg,
		Services{
			Directory:   directory,
			Relay:       chat,
			Notifier:    center,
			Faucet:      gate,
			Companies:   companies,
			Projects:    projects,
			TimeKeeping: timeKeeping,
		},
		sessions, hub, okPinger{}, logger,
	)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return &testStack{ts: ts, sessions: sessions}
}

func defaultRate() config.RateLimitConfig {
	return config.RateLimitConfig{EventsPerSecond: 1000, Burst: 1000}
}

// wsClient speaks the envelope protocol, separating replies from pushes.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn

	mu      sync.Mutex
	nextID  uint64
	replies map[uint64]chan responseEnvelope
	pushes  chan pushEnvelope
}

func dialClient(t *testing.T, stack *testStack) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(stack.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	c := &wsClient{
		t:       t,
		conn:    conn,
		replies: make(map[uint64]chan responseEnvelope),
		pushes:  make(chan pushEnvelope, 16),
	}
	t.Cleanup(func() { conn.Close() })
	go c.readLoop()
	return c
}

func (c *wsClient) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var head struct {
			ID    uint64 `json:"id"`
			Event string `json:"event"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		if head.ID == 0 {
			var push pushEnvelope
			if json.Unmarshal(raw, &push) == nil {
				c.pushes <- push
			}
			continue
		}
		var resp responseEnvelope
		if json.Unmarshal(raw, &resp) != nil {
			continue
		}
		c.mu.Lock()
		ch := c.replies[head.ID]
		delete(c.replies, head.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}
}

// request sends one event and waits for its reply.
func (c *wsClient) request(event string, args ...interface{}) responseEnvelope {
	c.t.Helper()

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan responseEnvelope, 1)
	c.replies[id] = ch
	c.mu.Unlock()

	require.NoError(c.t, c.conn.WriteJSON(map[string]interface{}{
		"id": id, "event": event, "args": args,
	}))

	select {
	case resp := <-ch:
		return resp
	case <-time.After(5 * time.Second):
		c.t.Fatalf("timed out waiting for reply to %q", event)
		return responseEnvelope{}
	}
}

// waitPush returns the next push with the given event name.
func (c *wsClient) waitPush(event string) pushEnvelope {
	c.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case push := <-c.pushes:
			if push.Event == event {
				return push
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for push %q", event)
			return pushEnvelope{}
		}
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	client := dialClient(t, ts)

	resp := client.request("register", "alice", "s3cret")
	assert.Empty(t, resp.Error)

	resp = client.request("register", "alice", "other")
	assert.Equal(t, string(errors.CodeIDExists), resp.Error)

	resp = client.request("id-exists", "alice")
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, true, resp.Results[0])
	assert.Equal(t, "alice", resp.Results[1])

	other := dialClient(t, ts)
	resp = other.request("login", "alice", "wrong")
	assert.Equal(t, string(errors.CodeLoginFailed), resp.Error)

	resp = other.request("login", "alice", "s3cret")
	assert.Empty(t, resp.Error)
}

func TestUnknownEventRejected(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	client := dialClient(t, ts)

	resp := client.request("drop-table")
	assert.Equal(t, string(errors.CodeUnknownEvent), resp.Error)
}

func TestMessageBroadcastExcludesSender(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	alice := dialClient(t, ts)
	bob := dialClient(t, ts)

	require.Empty(t, alice.request("register", "alice", "pw").Error)
	require.Empty(t, bob.request("register", "bob", "pw").Error)

	resp := alice.request("message", "hello everyone")
	require.Empty(t, resp.Error)

	push := bob.waitPush("message")
	require.Len(t, push.Args, 2)
	assert.Equal(t, "hello everyone", push.Args[0])
	assert.Equal(t, "alice", push.Args[1])

	select {
	case push := <-alice.pushes:
		t.Fatalf("sender must not receive its own broadcast, got %q", push.Event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMessageRequiresAuth(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	client := dialClient(t, ts)

	resp := client.request("message", "anonymous hello")
	assert.Equal(t, string(errors.CodeLoginOrRegisterRequired), resp.Error)
}

func TestNotificationDeliveredToOnlineRecipient(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	alice := dialClient(t, ts)
	bob := dialClient(t, ts)

	require.Empty(t, alice.request("register", "alice", "pw").Error)
	require.Empty(t, bob.request("register", "bob", "pw").Error)

	resp := alice.request("notification", []string{"bob"}, "chat", "referral", "join my chat", nil)
	require.Empty(t, resp.Error)

	push := bob.waitPush("notification")
	require.GreaterOrEqual(t, len(push.Args), 4)
	assert.Equal(t, "alice", push.Args[0])
	assert.Equal(t, "chat", push.Args[1])
	assert.Equal(t, "referral", push.Args[2])
	assert.Equal(t, "join my chat", push.Args[3])
}

func TestNotificationBacklogDeliveredOnLogin(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	alice := dialClient(t, ts)

	require.Empty(t, alice.request("register", "alice", "pw").Error)

	// Register bob on a second connection, then drop it so they go offline
	// before the notification is sent.
	bobFirst := dialClient(t, ts)
	require.Empty(t, bobFirst.request("register", "bob", "pw").Error)
	bobFirst.conn.Close()
	require.Eventually(t, func() bool {
		return !ts.sessions.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)

	require.Empty(t, alice.request("notification", []string{"bob"}, "chat", "referral", "you there?", nil).Error)

	bob := dialClient(t, ts)
	require.Empty(t, bob.request("login", "bob", "pw").Error)

	push := bob.waitPush("notification")
	assert.Equal(t, "you there?", push.Args[3])
}

func TestFaucetRequestOverWire(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	client := dialClient(t, ts)

	resp := client.request("faucet-request", "5Addr")
	assert.Equal(t, string(errors.CodeLoginOrRegisterRequired), resp.Error)

	require.Empty(t, client.request("register", "alice", "pw").Error)
	resp = client.request("faucet-request", "5Addr")
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "0xtest", resp.Results[0])
}

func TestCompanyLifecycleOverWire(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	client := dialClient(t, ts)
	require.Empty(t, client.request("register", "alice", "pw").Error)

	company := map[string]interface{}{
		"name":               "Acme GmbH",
		"country":            "DE",
		"registrationNumber": "HRB 12345",
	}
	require.Empty(t, client.request("company", "5Acme", company).Error)

	resp := client.request("company", "5Acme")
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results, 1)

	resp = client.request("company-search", map[string]string{"name": "acme"})
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results, 1)

	resp = client.request("company-search", map[string]string{"secretField": "x"})
	assert.Equal(t, string(errors.CodeInvalidPayload), resp.Error)
}

func TestProjectLifecycleOverWire(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	client := dialClient(t, ts)
	require.Empty(t, client.request("register", "alice", "pw").Error)

	input := map[string]interface{}{"name": "Apollo", "ownerAddress": "5Owner"}
	require.Empty(t, client.request("project", "p1", input, true).Error)

	resp := client.request("project", "p1", input, true)
	assert.Equal(t, string(errors.CodeExists), resp.Error)

	require.Empty(t, client.request("project-status", "p1", 2).Error)

	resp = client.request("projects", []string{"5Owner"})
	require.Empty(t, resp.Error)

	resp = client.request("projects-by-hashes", []string{"p1", "ghost"})
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results, 2)
}

func TestTimeKeepingOverWire(t *testing.T) {
	ts := newTestStack(t, defaultRate())
	client := dialClient(t, ts)
	require.Empty(t, client.request("register", "alice", "pw").Error)

	entry := map[string]interface{}{
		"address":     "5Worker",
		"projectHash": "p1",
		"blockStart":  100,
		"blockEnd":    820,
		"rateAmount":  1.5,
		"rateUnit":    "XTX",
		"ratePeriod":  1,
	}
	require.Empty(t, client.request("time-keeping", "tk1", entry).Error)

	resp := client.request("time-keeping", "tk1")
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results, 1)
}

func TestRateLimitOverWire(t *testing.T) {
	ts := newTestStack(t, config.RateLimitConfig{EventsPerSecond: 1, Burst: 1})
	client := dialClient(t, ts)

	first := client.request("id-exists", "alice")
	second := client.request("id-exists", "alice")

	codes := []string{first.Error, second.Error}
	assert.Contains(t, codes, string(errors.CodeRateLimited))
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestStack(t, defaultRate())

	resp, err := http.Get(ts.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
