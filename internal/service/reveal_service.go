package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/repository"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
)

type contactRepository interface {
	FindGrant(ctx context.Context, clientID, developerID, projectID string) (*models.ContactGrant, error)
	RecordReveal(ctx context.Context, params repository.RecordRevealParams) (*models.ContactRevealEvent, error)
	CreateGrant(ctx context.Context, grant *models.ContactGrant) error
}

type revealDeveloperRepository interface {
	FindByID(ctx context.Context, id string) (*models.DeveloperProfile, error)
}

type revealAuditRepository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RevealService is the contact reveal gate. A reveal succeeds only when the
// project has reveal enabled for the caller, a grant covers the channel, and
// the quota increment lands below the ceiling. The first reveal per
// (project, client) counts against quota; repeats are logged but free.
type RevealService struct {
	contacts   contactRepository
	developers revealDeveloperRepository
	projects   assignmentProjectRepository
	audit      revealAuditRepository
	quota      *QuotaService
	notifier   offerNotifier
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewRevealService constructs a RevealService.
func NewRevealService(contacts contactRepository, developers revealDeveloperRepository, projects assignmentProjectRepository, audit revealAuditRepository, quota *QuotaService, notifier offerNotifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RevealService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RevealService{
		contacts:   contacts,
		developers: developers,
		projects:   projects,
		audit:      audit,
		quota:      quota,
		notifier:   notifier,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
	}
}

// Reveal exposes the accepted developer's contact details to the project
// owner. The returned info carries only the channels the grant allows.
func (s *RevealService) Reveal(ctx context.Context, projectID, clientID string, req dto.RevealRequest) (*models.ContactInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reveal payload")
	}

	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}
	if project.ClientID != clientID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "project belongs to another client")
	}
	if !project.ContactRevealEnabled || project.ContactRevealedDeveloperID == nil {
		return nil, appErrors.Clone(appErrors.ErrRevealDisabled, "contact reveal is not enabled for this project")
	}
	developerID := *project.ContactRevealedDeveloperID

	grant, err := s.contacts.FindGrant(ctx, clientID, developerID, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no contact grant for this developer")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load contact grant")
	}
	now := time.Now().UTC()
	if grant.Expired(now) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "contact grant has expired")
	}

	developer, err := s.developers.FindByID(ctx, developerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "developer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load developer")
	}

	qc, err := s.quota.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}

	event := models.ContactRevealEvent{
		ProjectID:   projectID,
		ClientID:    clientID,
		DeveloperID: developerID,
		BatchID:     project.CurrentBatchID,
		Channel:     req.Channel,
		IPAddress:   req.IP,
		UserAgent:   req.UserAgent,
		CreatedAt:   now,
	}
	recorded, err := s.contacts.RecordReveal(ctx, repository.RecordRevealParams{
		Event:        event,
		UsageID:      qc.Usage.ID,
		ClickCeiling: s.quota.ContactClickCeiling(qc),
	})
	if err != nil {
		if errors.Is(err, repository.ErrQuotaExhausted) {
			s.metrics.RecordQuotaDenial(models.QuotaContactReveals)
			return nil, appErrors.Clone(appErrors.ErrQuotaExceeded, "contact reveal allowance exhausted for this project")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record reveal")
	}

	s.metrics.RecordContactReveal(recorded.CountsAgainstLimit)
	s.notifier.Notify(models.NotificationContactRevealed, developerID, map[string]string{
		"project_id": projectID,
		"client_id":  clientID,
	})
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &clientID,
		Action:     models.AuditActionContactReveal,
		Resource:   "project",
		ResourceID: &projectID,
		NewValues:  []byte(`{"channel":"` + req.Channel + `"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record reveal audit log", zap.Error(err))
	}

	return filterContact(developer, grant), nil
}

// Grant writes an explicit contact grant on behalf of an admin. Accept
// flows create their own implicit grants; this path covers support cases
// such as widening channels or granting outside a project.
func (s *RevealService) Grant(ctx context.Context, adminID string, req dto.GrantContactRequest) (*models.ContactGrant, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grant payload")
	}
	if !req.AllowEmail && !req.AllowPhone && !req.AllowWhatsApp {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grant must allow at least one channel")
	}

	if _, err := s.developers.FindByID(ctx, req.DeveloperID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "developer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load developer")
	}

	grant := &models.ContactGrant{
		ClientID:      req.ClientID,
		DeveloperID:   req.DeveloperID,
		ProjectID:     req.ProjectID,
		AllowEmail:    req.AllowEmail,
		AllowPhone:    req.AllowPhone,
		AllowWhatsApp: req.AllowWhatsApp,
		ExpiresAt:     req.ExpiresAt,
	}
	if err := s.contacts.CreateGrant(ctx, grant); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create contact grant")
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionAdminGrant,
		Resource:   "contact_grant",
		ResourceID: &grant.ID,
	}); err != nil {
		s.logger.Warn("failed to record grant audit log", zap.Error(err))
	}
	return grant, nil
}

// filterContact copies only the channels the grant allows. A denied channel
// stays empty no matter what the profile stores.
func filterContact(developer *models.DeveloperProfile, grant *models.ContactGrant) *models.ContactInfo {
	info := &models.ContactInfo{
		DeveloperID: developer.ID,
		FullName:    developer.FullName,
	}
	if grant.AllowEmail {
		info.Email = developer.ContactEmail
	}
	if grant.AllowPhone {
		info.Phone = developer.ContactPhone
	}
	if grant.AllowWhatsApp {
		info.WhatsApp = developer.ContactWhatsApp
	}
	return info
}
