// Package relay defines the broadcast primitive shared by chat, notifications
// and the faucet gate, plus the chat message relay itself.
package relay

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/session"
)

// Event is a named server push with an ordered argument list.
type Event struct {
	Name string
	Args []interface{}
}

// Broadcaster delivers events to live connections. The websocket hub
// implements it; a message bus could replace it in a distributed deployment.
// Delivery is fire-and-forget: no acknowledgement, ordering only per
// connection.
type Broadcaster interface {
	// Emit sends the event to every live connection except the excluded ones.
	Emit(event Event, exclude ...string)
	// EmitTo sends the event to all of one user's connections.
	EmitTo(userID string, event Event)
}

// MessageMaxLen caps chat message length, counted in characters.
const MessageMaxLen = 160

// Relay broadcasts chat messages to every connected session except the
// sender's own connections.
type Relay struct {
	sessions *session.Registry
	bus      Broadcaster
	logger   *zap.Logger
}

// NewRelay creates a chat relay.
func NewRelay(sessions *session.Registry, bus Broadcaster, logger *zap.Logger) *Relay {
	return &Relay{sessions: sessions, bus: bus, logger: logger}
}

// Send validates and broadcasts a chat message from the given connection.
// Empty messages are dropped silently: no error, no broadcast.
func (r *Relay) Send(ctx context.Context, connID, text string) error {
	senderID, ok := r.sessions.UserByConn(connID)
	if !ok {
		return errors.NewAuthRequired()
	}
	if utf8.RuneCountInString(text) > MessageMaxLen {
		return errors.NewMessageTooLong(MessageMaxLen)
	}
	if text == "" {
		return nil
	}

	r.bus.Emit(
		Event{Name: "message", Args: []interface{}{text, senderID}},
		r.sessions.Conns(senderID)...,
	)
	r.logger.Debug("message relayed", zap.String("senderId", senderID))
	return nil
}
