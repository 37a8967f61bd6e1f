package records

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/models"
	"github.com/totem-tech/messaging/internal/storage"
)

// ProjectInput carries the client-settable fields of a project. Status changes
// go through SetStatus and the ban list through Ban/Unban.
type ProjectInput struct {
	Name         string `json:"name"`
	OwnerAddress string `json:"ownerAddress"`
	Description  string `json:"description"`
}

// ProjectService manages project records keyed by hash.
type ProjectService struct {
	projects *storage.Collection[models.Project]
	logger   *zap.Logger

	// mu serializes every read-modify-write of a project record: creation
	// uniqueness, status changes and the ban list.
	mu sync.Mutex
}

// NewProjectService creates a project service.
func NewProjectService(projects *storage.Collection[models.Project], logger *zap.Logger) *ProjectService {
	return &ProjectService{projects: projects, logger: logger}
}

// Get returns the project with the given hash.
func (s *ProjectService) Get(ctx context.Context, hash string) (models.Project, error) {
	project, found, err := s.projects.Get(ctx, hash)
	if err != nil {
		return models.Project{}, errors.NewInternal("failed to load project", err)
	}
	if !found {
		return models.Project{}, errors.NewNotFound("project", hash)
	}
	return project, nil
}

// Upsert creates or updates a project. With create set the hash must be
// unused; without it the project must already exist. The hash, status,
// creation time and ban list survive updates untouched.
func (s *ProjectService) Upsert(ctx context.Context, hash string, input ProjectInput, create bool) error {
	if err := validateProjectInput(hash, input); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.projects.Get(ctx, hash)
	if err != nil {
		return errors.NewInternal("failed to look up project", err)
	}

	var project models.Project
	switch {
	case create && found:
		return errors.NewExists("project")
	case create:
		project = models.Project{
			Hash:      hash,
			Status:    models.ProjectOpen,
			CreatedAt: time.Now().UTC(),
		}
	case !found:
		return errors.NewNotFound("project", hash)
	default:
		project = existing
	}

	project.Name = input.Name
	project.OwnerAddress = input.OwnerAddress
	project.Description = input.Description

	if err := s.projects.Set(ctx, hash, project); err != nil {
		return errors.NewInternal("failed to persist project", err)
	}
	s.logger.Info("project saved", zap.String("hash", hash), zap.Bool("created", create))
	return nil
}

// SetStatus changes a project's lifecycle status. Any transition between
// defined statuses is allowed.
func (s *ProjectService) SetStatus(ctx context.Context, hash string, status models.ProjectStatus) error {
	if !status.Valid() {
		return errors.NewInvalidPayload("status", "not a valid project status")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	project, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	project.Status = status

	if err := s.projects.Set(ctx, hash, project); err != nil {
		return errors.NewInternal("failed to persist project status", err)
	}
	return nil
}

// ByOwners lists all projects owned by any of the given wallet addresses.
func (s *ProjectService) ByOwners(ctx context.Context, addresses []string) ([]models.Project, error) {
	if len(addresses) == 0 {
		return nil, errors.NewInvalidPayload("addresses", "must not be empty")
	}

	var result []models.Project
	for _, address := range addresses {
		items, err := s.projects.Search(ctx, map[string]string{"ownerAddress": address}, storage.SearchOptions{MatchExact: true})
		if err != nil {
			return nil, errors.NewInternal("project search failed", err)
		}
		for _, item := range items {
			result = append(result, item.Value)
		}
	}
	return result, nil
}

// ByHashes resolves a batch of project hashes, reporting which were missing.
func (s *ProjectService) ByHashes(ctx context.Context, hashes []string) (map[string]models.Project, []string, error) {
	if len(hashes) == 0 {
		return nil, nil, errors.NewInvalidPayload("hashes", "must not be empty")
	}

	found := make(map[string]models.Project, len(hashes))
	var missing []string
	for _, hash := range hashes {
		project, ok, err := s.projects.Get(ctx, hash)
		if err != nil {
			return nil, nil, errors.NewInternal("failed to load project", err)
		}
		if !ok {
			missing = append(missing, hash)
			continue
		}
		found[hash] = project
	}
	return found, missing, nil
}

// Ban adds a worker to the project's time-keeping ban list.
func (s *ProjectService) Ban(ctx context.Context, hash, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	if project.IsBanned(id) {
		return nil
	}
	project.TimeKeeping.Banned = append(project.TimeKeeping.Banned, id)

	if err := s.projects.Set(ctx, hash, project); err != nil {
		return errors.NewInternal("failed to persist project ban list", err)
	}
	return nil
}

// Unban removes a worker from the project's time-keeping ban list.
func (s *ProjectService) Unban(ctx context.Context, hash, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	if !project.IsBanned(id) {
		return nil
	}

	kept := project.TimeKeeping.Banned[:0]
	for _, b := range project.TimeKeeping.Banned {
		if b != id {
			kept = append(kept, b)
		}
	}
	project.TimeKeeping.Banned = kept

	if err := s.projects.Set(ctx, hash, project); err != nil {
		return errors.NewInternal("failed to persist project ban list", err)
	}
	return nil
}

func validateProjectInput(hash string, input ProjectInput) error {
	if hash == "" {
		return errors.NewInvalidPayload("hash", "required")
	}
	if input.Name == "" {
		return errors.NewInvalidPayload("name", "required")
	}
	if input.OwnerAddress == "" {
		return errors.NewInvalidPayload("ownerAddress", "required")
	}
	if len(input.Description) > models.ProjectDescriptionMaxLen {
		return errors.NewInvalidPayload("description", "exceeds maximum length")
	}
	return nil
}
