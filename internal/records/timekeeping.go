package records

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/errors"
	"github.com/totem-tech/messaging/internal/models"
	"github.com/totem-tech/messaging/internal/storage"
)

// blockSeconds is the chain block time used to render durations.
const blockSeconds = 5

// TimeKeepingInput carries the client-settable fields of a time-keeping entry.
// Block count, duration and total amount are derived server-side.
type TimeKeepingInput struct {
	Address     string  `json:"address"`
	ProjectHash string  `json:"projectHash"`
	BlockStart  uint64  `json:"blockStart"`
	BlockEnd    uint64  `json:"blockEnd"`
	RateAmount  float64 `json:"rateAmount"`
	RateUnit    string  `json:"rateUnit"`
	RatePeriod  uint64  `json:"ratePeriod"`
	Approved    bool    `json:"approved"`
}

// TimeKeepingService manages time-keeping entries keyed by hash.
type TimeKeepingService struct {
	entries *storage.Collection[models.TimeKeepingEntry]
	logger  *zap.Logger

	// mu serializes the approval check and write of Put.
	mu sync.Mutex
}

// NewTimeKeepingService creates a time-keeping service.
func NewTimeKeepingService(entries *storage.Collection[models.TimeKeepingEntry], logger *zap.Logger) *TimeKeepingService {
	return &TimeKeepingService{entries: entries, logger: logger}
}

// Get returns the time-keeping entry with the given hash.
func (s *TimeKeepingService) Get(ctx context.Context, hash string) (models.TimeKeepingEntry, error) {
	entry, found, err := s.entries.Get(ctx, hash)
	if err != nil {
		return models.TimeKeepingEntry{}, errors.NewInternal("failed to load time keeping entry", err)
	}
	if !found {
		return models.TimeKeepingEntry{}, errors.NewNotFound("time keeping entry", hash)
	}
	return entry, nil
}

// Put creates or updates a time-keeping entry. Approved entries are immutable;
// the derived fields are recomputed on every write so clients cannot submit
// inconsistent totals.
func (s *TimeKeepingService) Put(ctx context.Context, hash string, input TimeKeepingInput, updatedBy string) error {
	if hash == "" {
		return errors.NewInvalidPayload("hash", "required")
	}
	if input.Address == "" {
		return errors.NewInvalidPayload("address", "required")
	}
	if input.ProjectHash == "" {
		return errors.NewInvalidPayload("projectHash", "required")
	}
	if input.BlockEnd < input.BlockStart {
		return errors.NewInvalidPayload("blockEnd", "must not precede blockStart")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.entries.Get(ctx, hash)
	if err != nil {
		return errors.NewInternal("failed to look up time keeping entry", err)
	}
	if found && existing.Approved {
		return errors.NewAlreadyApproved(hash)
	}

	now := time.Now().UTC()
	blockCount := input.BlockEnd - input.BlockStart
	entry := models.TimeKeepingEntry{
		Hash:        hash,
		Address:     input.Address,
		ProjectHash: input.ProjectHash,
		BlockStart:  input.BlockStart,
		BlockEnd:    input.BlockEnd,
		RateAmount:  input.RateAmount,
		RateUnit:    input.RateUnit,
		RatePeriod:  input.RatePeriod,
		BlockCount:  blockCount,
		Duration:    blocksToDuration(blockCount),
		TotalAmount: input.RateAmount * float64(blockCount),
		Approved:    input.Approved,
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   updatedBy,
	}
	if found {
		entry.CreatedAt = existing.CreatedAt
	}

	if err := s.entries.Set(ctx, hash, entry); err != nil {
		return errors.NewInternal("failed to persist time keeping entry", err)
	}
	s.logger.Info("time keeping entry saved",
		zap.String("hash", hash),
		zap.String("projectHash", input.ProjectHash),
		zap.Bool("approved", input.Approved),
	)
	return nil
}

// blocksToDuration renders a block count as HH:MM:SS.
func blocksToDuration(blocks uint64) string {
	seconds := blocks * blockSeconds
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}
