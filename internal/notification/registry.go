// Package notification implements typed notification creation, per-recipient
// queuing and delivery on reconnect.
package notification

import (
	"context"

	"github.com/totem-tech/messaging/internal/errors"
)

// Request is a notification being validated. Hooks may inspect and veto it
// before anything is persisted.
type Request struct {
	SenderID   string
	Recipients []string
	Type       string
	ChildType  string
	Message    string
	Data       map[string]interface{}
}

// Hook is a synchronous pre-commit check for one notification type. A non-nil
// error vetoes the notification.
type Hook func(ctx context.Context, req *Request) error

// TypeSpec describes the requirements of one (type, childType) leaf.
type TypeSpec struct {
	// DataFields lists payload fields that must be present.
	DataFields []string
	// MessageRequired demands a non-empty free-text message.
	MessageRequired bool
	// Handle, when set, runs before requirements are enforced and may veto.
	Handle Hook
}

// Registry holds the notification type tree: parent type, then child type.
// A parent without children registers a single spec under the empty child.
type Registry struct {
	types map[string]map[string]TypeSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]map[string]TypeSpec)}
}

// Register adds a type leaf. Registering the same pair twice replaces the
// earlier spec.
func (r *Registry) Register(parent, child string, spec TypeSpec) {
	if r.types[parent] == nil {
		r.types[parent] = make(map[string]TypeSpec)
	}
	r.types[parent][child] = spec
}

// Lookup resolves a (type, childType) pair. It distinguishes unknown parents
// from unknown children so callers report the right validation failure.
func (r *Registry) Lookup(parent, child string) (TypeSpec, error) {
	children, ok := r.types[parent]
	if !ok {
		return TypeSpec{}, errors.NewInvalidPayload("type", "unknown notification type: "+parent)
	}
	spec, ok := children[child]
	if !ok {
		return TypeSpec{}, errors.NewInvalidPayload("childType", "unknown notification child type: "+child)
	}
	return spec, nil
}
