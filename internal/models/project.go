package models

import "time"

// ProjectStatus enumerates the lifecycle states of a project. Transitions are
// unrestricted; only membership in the enum is enforced.
type ProjectStatus int

const (
	ProjectOpen     ProjectStatus = 0
	ProjectReopened ProjectStatus = 1
	ProjectClosed   ProjectStatus = 2
	ProjectDeleted  ProjectStatus = 99
)

// Valid reports whether the status is one of the defined enum values.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectOpen, ProjectReopened, ProjectClosed, ProjectDeleted:
		return true
	}
	return false
}

// ProjectDescriptionMaxLen caps the free-text description.
const ProjectDescriptionMaxLen = 160

// Project is keyed by its hash. The hash is immutable once created.
type Project struct {
	Hash         string        `json:"hash"`
	Name         string        `json:"name"`
	OwnerAddress string        `json:"ownerAddress"`
	Description  string        `json:"description"`
	Status       ProjectStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	// TimeKeeping holds per-project worker state for time-keeping invitations.
	TimeKeeping ProjectTimeKeeping `json:"timeKeeping"`
}

// ProjectTimeKeeping tracks which addresses or users may not record time
// against the project.
type ProjectTimeKeeping struct {
	Banned []string `json:"banned,omitempty"`
}

// IsBanned reports whether the given address or user id is on the ban list.
func (p *Project) IsBanned(id string) bool {
	for _, b := range p.TimeKeeping.Banned {
		if b == id {
			return true
		}
	}
	return false
}
