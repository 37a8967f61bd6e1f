// Package records implements the company, project and time-keeping services
// on top of the key/value store.
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

// companySearchFields whitelists the fields company search may use.
var companySearchFields = map[string]bool{
	"walletAddress":      true,
	"name":               true,
	"country":            true,
	"registrationNumber": true,
}

// CompanyService manages company records keyed by wallet address.
type CompanyService struct {
	companies *storage.Collection[models.Company]
	logger    *zap.Logger

	// mu serializes the uniqueness checks and write of Create.
	mu sync.Mutex
}

// NewCompanyService creates a company service.
func NewCompanyService(companies *storage.Collection[models.Company], logger *zap.Logger) *CompanyService {
	return &CompanyService{companies: companies, logger: logger}
}

// Get returns the company registered under the wallet address.
func (s *CompanyService) Get(ctx context.Context, walletAddress string) (models.Company, error) {
	company, found, err := s.companies.Get(ctx, walletAddress)
	if err != nil {
		return models.Company{}, errors.NewInternal("failed to load company", err)
	}
	if !found {
		return models.Company{}, errors.NewNotFound("company", walletAddress)
	}
	return company, nil
}

// Create registers a new company. Uniqueness is enforced on the wallet
// address and on the exact (name, registration number, country) triple.
func (s *CompanyService) Create(ctx context.Context, company models.Company) error {
	if company.WalletAddress == "" {
		return errors.NewInvalidPayload("walletAddress", "required")
	}
	if company.Name == "" {
		return errors.NewInvalidPayload("name", "required")
	}
	if company.Country == "" {
		return errors.NewInvalidPayload("country", "required")
	}
	if company.RegistrationNumber == "" {
		return errors.NewInvalidPayload("registrationNumber", "required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, found, err := s.companies.Get(ctx, company.WalletAddress)
	if err != nil {
		return errors.NewInternal("failed to look up company", err)
	}
	if found {
		return errors.NewWalletAlreadyAssociated(company.WalletAddress)
	}

	// The triple match is deliberately exact and case-sensitive.
	matches, err := s.companies.Search(ctx, map[string]string{
		"name":               company.Name,
		"registrationNumber": company.RegistrationNumber,
		"country":            company.Country,
	}, storage.SearchOptions{MatchExact: true, MatchAll: true})
	if err != nil {
		return errors.NewInternal("failed to check company uniqueness", err)
	}
	if len(matches) > 0 {
		return errors.NewExists("company")
	}

	company.CreatedAt = time.Now().UTC()
	if err := s.companies.Set(ctx, company.WalletAddress, company); err != nil {
		return errors.NewInternal("failed to persist company", err)
	}
	s.logger.Info("company created", zap.String("walletAddress", company.WalletAddress))
	return nil
}

// Search finds companies by partial criteria over whitelisted fields.
// Matching is substring and case-insensitive; every given field must match.
func (s *CompanyService) Search(ctx context.Context, criteria map[string]string) ([]storage.Item[models.Company], error) {
	if len(criteria) == 0 {
		return nil, errors.NewInvalidPayload("criteria", "must not be empty")
	}
	for field := range criteria {
		if !companySearchFields[field] {
			return nil, errors.NewInvalidPayload(field, "not a searchable field")
		}
	}

	items, err := s.companies.Search(ctx, criteria, storage.SearchOptions{
		MatchAll:   true,
		IgnoreCase: true,
	})
	if err != nil {
		return nil, errors.NewInternal("company search failed", err)
	}
	return items, nil
}
