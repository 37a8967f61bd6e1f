package notification

import (
	"context"

	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/models"
)

// Projects is the slice of the project service the time-keeping hooks need.
type Projects interface {
	Get(ctx context.Context, hash string) (models.Project, error)
	Ban(ctx context.Context, hash, id string) error
	Unban(ctx context.Context, hash, id string) error
}

// DefaultRegistry builds the registry with the notification types the product
// uses.
func DefaultRegistry(projects Projects) *Registry {
	r := NewRegistry()

	// Identity sharing between users.
	r.Register("identity", "request", TypeSpec{
		DataFields:      []string{"userId", "reason"},
		MessageRequired: false,
	})
	r.Register("identity", "share", TypeSpec{
		DataFields: []string{"address"},
	})

	// Chat referral carries only a free-text message.
	r.Register("chat", "referral", TypeSpec{
		MessageRequired: true,
	})

	// Time-keeping invitations are vetoed when the project is unknown or the
	// invited worker is banned from it.
	r.Register("timekeeping", "invitation", TypeSpec{
		DataFields: []string{"projectHash", "projectName", "workerId"},
		Handle:     inviteHook(projects),
	})
	r.Register("timekeeping", "invitation_response", TypeSpec{
		DataFields:      []string{"projectHash", "workerId", "accepted"},
		MessageRequired: false,
		Handle:          inviteResponseHook(projects),
	})

	return r
}

// inviteHook validates a time-keeping invitation against the project record.
func inviteHook(projects Projects) Hook {
	return func(ctx context.Context, req *Request) error {
		hash, worker, err := inviteFields(req)
		if err != nil {
			return err
		}

		project, err := projects.Get(ctx, hash)
		if err != nil {
			return err
		}
		if project.IsBanned(worker) {
			return errors.NewBanned(worker)
		}
		return nil
	}
}

// inviteResponseHook records the worker's decision on the project: acceptance
// clears them from the ban list, refusal adds them so repeat invitations are
// vetoed until the ban is lifted.
func inviteResponseHook(projects Projects) Hook {
	return func(ctx context.Context, req *Request) error {
		hash, worker, err := inviteFields(req)
		if err != nil {
			return err
		}

		if _, err := projects.Get(ctx, hash); err != nil {
			return err
		}

		accepted, ok := req.Data["accepted"].(bool)
		if !ok {
			return errors.NewInvalidPayload("data.accepted", "must be a boolean")
		}
		if accepted {
			return projects.Unban(ctx, hash, worker)
		}
		return projects.Ban(ctx, hash, worker)
	}
}

// inviteFields extracts the project hash and worker id common to both hooks.
func inviteFields(req *Request) (hash, worker string, err error) {
	hash, ok := req.Data["projectHash"].(string)
	if !ok || hash == "" {
		return "", "", errors.NewInvalidPayload("data.projectHash", "must be a non-empty string")
	}
	worker, ok = req.Data["workerId"].(string)
	if !ok || worker == "" {
		return "", "", errors.NewInvalidPayload("data.workerId", "must be a non-empty string")
	}
	return hash, worker, nil
}
