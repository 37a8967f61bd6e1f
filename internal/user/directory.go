// Package user implements identity registration, authentication and
// existence checks.
package user

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/models"
	"github.com/totem-tech/messaging/internal/session"
	"github.com/totem-tech/messaging/internal/storage"
)

// handlePattern is the allowed shape of a user handle: lowercase
// alphanumeric, starting with a letter.
var handlePattern = regexp.MustCompile(`^[a-z][a-z0-9]+$`)

// LoginListener is invoked after a successful login, outside the directory's
// lock. The notification center uses it to deliver queued notifications.
type LoginListener func(ctx context.Context, userID string)

// Directory manages the user collection and its session bindings.
type Directory struct {
	users    *storage.Collection[models.User]
	sessions *session.Registry
	logger   *zap.Logger

	// regMu serializes the uniqueness check and write of registration.
	regMu sync.Mutex

	mu        sync.Mutex
	listeners []LoginListener
}

// NewDirectory creates a directory over the given user collection.
func NewDirectory(users *storage.Collection[models.User], sessions *session.Registry, logger *zap.Logger) *Directory {
	return &Directory{
		users:    users,
		sessions: sessions,
		logger:   logger,
	}
}

// OnLogin registers a listener for successful logins.
func (d *Directory) OnLogin(fn LoginListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// ValidateHandle checks the handle pattern and length rules.
func ValidateHandle(handle string) error {
	if !handlePattern.MatchString(handle) {
		return errors.NewIDInvalid(handle)
	}
	if len(handle) < models.HandleMinLen || len(handle) >= models.HandleMaxLen {
		return errors.NewIDLength(handle)
	}
	return nil
}

// Register creates a new identity and binds the requesting connection.
func (d *Directory) Register(ctx context.Context, handle, secret, connID string) error {
	if err := ValidateHandle(handle); err != nil {
		return err
	}

	// Hash before taking the lock; bcrypt is slow and must not serialize
	// unrelated registrations.
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return errors.NewInternal("failed to hash secret", err)
	}

	d.regMu.Lock()
	defer d.regMu.Unlock()

	_, found, err := d.users.Get(ctx, handle)
	if err != nil {
		return errors.NewInternal("failed to look up user", err)
	}
	if found {
		return errors.NewIDExists(handle)
	}

	user := models.User{
		ID:         handle,
		SecretHash: string(hash),
		Online:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.users.Set(ctx, handle, user); err != nil {
		return errors.NewInternal("failed to persist user", err)
	}

	d.sessions.Bind(handle, connID)
	d.logger.Info("user registered", zap.String("userId", handle))
	return nil
}

// Login authenticates a handle and binds the requesting connection alongside
// any connections the user already holds.
func (d *Directory) Login(ctx context.Context, handle, secret, connID string) error {
	user, found, err := d.users.Get(ctx, handle)
	if err != nil {
		return errors.NewInternal("failed to look up user", err)
	}
	if !found {
		return errors.NewLoginFailed()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.SecretHash), []byte(secret)); err != nil {
		return errors.NewLoginFailed()
	}

	d.sessions.Bind(handle, connID)

	if !user.Online {
		user.Online = true
		if err := d.users.Set(ctx, handle, user); err != nil {
			return errors.NewInternal("failed to persist user", err)
		}
	}

	d.logger.Info("user logged in", zap.String("userId", handle))
	d.notifyLogin(ctx, handle)
	return nil
}

// notifyLogin invokes login listeners.
func (d *Directory) notifyLogin(ctx context.Context, userID string) {
	d.mu.Lock()
	listeners := make([]LoginListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, userID)
	}
}

// IDExists reports whether a handle is taken. No authentication required.
func (d *Directory) IDExists(ctx context.Context, handle string) (bool, error) {
	_, found, err := d.users.Get(ctx, handle)
	if err != nil {
		return false, errors.NewInternal("failed to look up user", err)
	}
	return found, nil
}

// Disconnect unbinds a closed connection. When it was the user's last
// connection the user record transitions to offline; the record itself is
// kept.
func (d *Directory) Disconnect(ctx context.Context, connID string) {
	userID, last, ok := d.sessions.Unbind(connID)
	if !ok || !last {
		return
	}

	user, found, err := d.users.Get(ctx, userID)
	if err != nil || !found {
		if err != nil {
			d.logger.Error("failed to load user on disconnect", zap.String("userId", userID), zap.Error(err))
		}
		return
	}
	user.Online = false
	if err := d.users.Set(ctx, userID, user); err != nil {
		d.logger.Error("failed to mark user offline", zap.String("userId", userID), zap.Error(err))
	}
}
