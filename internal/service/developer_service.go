package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/models"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
)

type developerRepository interface {
	FindByID(ctx context.Context, id string) (*models.DeveloperProfile, error)
	FindByUserID(ctx context.Context, userID string) (*models.DeveloperProfile, error)
	SetApproved(ctx context.Context, id string, approved bool) error
	SetAvailability(ctx context.Context, id string, available bool) error
}

// DeveloperService manages developer profiles: admin approval and the
// availability toggle. Profile changes invalidate cached rotation pools.
type DeveloperService struct {
	repo   developerRepository
	cache  *CacheService
	logger *zap.Logger
}

// NewDeveloperService constructs a DeveloperService.
func NewDeveloperService(repo developerRepository, cache *CacheService, logger *zap.Logger) *DeveloperService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeveloperService{repo: repo, cache: cache, logger: logger}
}

// Get returns a developer profile by id.
func (s *DeveloperService) Get(ctx context.Context, id string) (*models.DeveloperProfile, error) {
	profile, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "developer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load developer")
	}
	return profile, nil
}

// GetByUser resolves the profile owned by a user account.
func (s *DeveloperService) GetByUser(ctx context.Context, userID string) (*models.DeveloperProfile, error) {
	profile, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "developer profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load developer profile")
	}
	return profile, nil
}

// Approve flips the admin approval flag, gating pool eligibility.
func (s *DeveloperService) Approve(ctx context.Context, id string, approved bool) error {
	if err := s.repo.SetApproved(ctx, id, approved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "developer not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update approval")
	}
	s.invalidatePools(ctx)
	return nil
}

// SetAvailability toggles whether the developer enters rotation pools.
func (s *DeveloperService) SetAvailability(ctx context.Context, userID string, available bool) error {
	if err := s.repo.SetAvailability(ctx, userID, available); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "developer not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update availability")
	}
	s.invalidatePools(ctx)
	return nil
}

func (s *DeveloperService) invalidatePools(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "rotation:pool:*"); err != nil {
		s.logger.Warn("failed to invalidate rotation pool cache", zap.Error(err))
	}
}
