package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/models"
	"github.com/totem-tech/messaging/internal/relay"
	"github.com/totem-tech/messaging/internal/session"
	"github.com/totem-tech/messaging/internal/storage"
)

// EventName is the push event carrying a notification to a recipient.
const EventName = "notification"

// Center validates, persists and delivers notifications. Offline recipients
// receive their backlog at next login via the directory's login listener.
type Center struct {
	registry      *Registry
	notifications *storage.Collection[models.Notification]
	pending       *storage.Collection[models.PendingIndex]
	sessions      *session.Registry
	bus           relay.Broadcaster
	logger        *zap.Logger
}

// NewCenter creates a notification center.
func NewCenter(
	registry *Registry,
	notifications *storage.Collection[models.Notification],
	pending *storage.Collection[models.PendingIndex],
	sessions *session.Registry,
	bus relay.Broadcaster,
	logger *zap.Logger,
) *Center {
	return &Center{
		registry:      registry,
		notifications: notifications,
		pending:       pending,
		sessions:      sessions,
		bus:           bus,
		logger:        logger,
	}
}

// Notify validates and dispatches a notification from an authenticated
// sender. Panics inside hooks or delivery are recovered and surfaced as a
// generic internal error so a bad notification cannot take the handler down.
func (c *Center) Notify(ctx context.Context, senderID string, recipients []string, parent, child, message string, data map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in notification dispatch", zap.Any("panic", r))
			err = errors.NewInternal("notification dispatch failed", nil)
		}
	}()

	if len(recipients) == 0 {
		return errors.NewInvalidPayload("recipients", "must not be empty")
	}

	spec, err := c.registry.Lookup(parent, child)
	if err != nil {
		return err
	}

	req := &Request{
		SenderID:   senderID,
		Recipients: recipients,
		Type:       parent,
		ChildType:  child,
		Message:    message,
		Data:       data,
	}
	if spec.Handle != nil {
		if err := spec.Handle(ctx, req); err != nil {
			return err
		}
	}

	for _, field := range spec.DataFields {
		if _, ok := req.Data[field]; !ok {
			return errors.NewInvalidPayload("data."+field, "required for this notification type")
		}
	}
	if spec.MessageRequired && req.Message == "" {
		return errors.NewInvalidPayload("message", "required for this notification type")
	}

	n := models.Notification{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		Recipients: recipients,
		Type:       parent,
		ChildType:  child,
		Message:    req.Message,
		Data:       req.Data,
		Timestamp:  time.Now().UTC(),
	}
	if err := c.notifications.Set(ctx, n.ID, n); err != nil {
		return errors.NewInternal("failed to persist notification", err)
	}

	for _, recipient := range recipients {
		if err := c.enqueue(ctx, recipient, n.ID); err != nil {
			return err
		}
	}

	// Online recipients get the notification immediately and their queue
	// entry cleared; offline recipients keep it until next login.
	for _, recipient := range recipients {
		if c.sessions.IsOnline(recipient) {
			c.push(recipient, n)
			if err := c.dequeue(ctx, recipient, n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeliverPending pushes a user's queued notifications. Wired as a login
// listener on the user directory.
func (c *Center) DeliverPending(ctx context.Context, userID string) {
	index, found, err := c.pending.Get(ctx, userID)
	if err != nil {
		c.logger.Error("failed to load pending notifications", zap.String("userId", userID), zap.Error(err))
		return
	}
	if !found || len(index.NotificationIDs) == 0 {
		return
	}

	var undelivered []string
	for _, id := range index.NotificationIDs {
		n, ok, err := c.notifications.Get(ctx, id)
		if err != nil {
			c.logger.Error("failed to load notification", zap.String("notificationId", id), zap.Error(err))
			undelivered = append(undelivered, id)
			continue
		}
		if !ok {
			// Stale index entry, drop it.
			continue
		}
		c.push(userID, n)
	}

	if len(undelivered) == 0 {
		if err := c.pending.Delete(ctx, userID); err != nil {
			c.logger.Error("failed to clear pending index", zap.String("userId", userID), zap.Error(err))
		}
		return
	}
	if err := c.pending.Set(ctx, userID, models.PendingIndex{NotificationIDs: undelivered}); err != nil {
		c.logger.Error("failed to update pending index", zap.String("userId", userID), zap.Error(err))
	}
}

// push emits one notification to all of a recipient's connections.
func (c *Center) push(recipient string, n models.Notification) {
	c.bus.EmitTo(recipient, relay.Event{
		Name: EventName,
		Args: []interface{}{n.SenderID, n.Type, n.ChildType, n.Message, n.Data, n.Timestamp},
	})
}

// enqueue appends a notification id to the recipient's pending index.
func (c *Center) enqueue(ctx context.Context, recipient, notificationID string) error {
	index, _, err := c.pending.Get(ctx, recipient)
	if err != nil {
		return errors.NewInternal("failed to load pending index", err)
	}
	index.NotificationIDs = append(index.NotificationIDs, notificationID)
	if err := c.pending.Set(ctx, recipient, index); err != nil {
		return errors.NewInternal("failed to update pending index", err)
	}
	return nil
}

// dequeue removes a delivered notification id from the recipient's pending
// index.
func (c *Center) dequeue(ctx context.Context, recipient, notificationID string) error {
	index, found, err := c.pending.Get(ctx, recipient)
	if err != nil {
		return errors.NewInternal("failed to load pending index", err)
	}
	if !found {
		return nil
	}

	kept := index.NotificationIDs[:0]
	for _, id := range index.NotificationIDs {
		if id != notificationID {
			kept = append(kept, id)
		}
	}
	index.NotificationIDs = kept

	if len(index.NotificationIDs) == 0 {
		if err := c.pending.Delete(ctx, recipient); err != nil {
			return errors.NewInternal("failed to clear pending index", err)
		}
		return nil
	}
	if err := c.pending.Set(ctx, recipient, index); err != nil {
		return errors.NewInternal("failed to update pending index", err)
	}
	return nil
}
