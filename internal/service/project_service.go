package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/repository"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
)

type projectRepository interface {
	FindByID(ctx context.Context, id string) (*models.Project, error)
	ListByClient(ctx context.Context, clientID string) ([]models.Project, error)
	ListAll(ctx context.Context) ([]models.Project, error)
	CreateWithQuota(ctx context.Context, project *models.Project, usageID string, ceiling *int) error
	UpdateStatus(ctx context.Context, id string, status models.ProjectStatus) error
}

type projectAuditRepository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type projectDeveloperRepository interface {
	FindByID(ctx context.Context, id string) (*models.DeveloperProfile, error)
}

type batchCreator interface {
	CreateBatch(ctx context.Context, params repository.CreateBatchParams) (*models.AssignmentBatch, error)
}

// ProjectService handles project intake and the admin assignment override.
type ProjectService struct {
	repo       projectRepository
	developers projectDeveloperRepository
	batches    batchCreator
	quota      *QuotaService
	rotation   *RotationService
	notifier   offerNotifier
	audit      projectAuditRepository
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger

	inviteDeadline time.Duration
}

// NewProjectService constructs a ProjectService.
func NewProjectService(repo projectRepository, developers projectDeveloperRepository, batches batchCreator, quota *QuotaService, rotation *RotationService, notifier offerNotifier, audit projectAuditRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, inviteDeadline time.Duration) *ProjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if inviteDeadline <= 0 {
		inviteDeadline = 48 * time.Hour
	}
	return &ProjectService{
		repo:           repo,
		developers:     developers,
		batches:        batches,
		quota:          quota,
		rotation:       rotation,
		notifier:       notifier,
		audit:          audit,
		metrics:        metrics,
		validator:      validate,
		logger:         logger,
		inviteDeadline: inviteDeadline,
	}
}

// Post creates a project, consuming one projects-quota unit in the same
// transaction as the insert. On success the first rotation batch is formed
// best effort and the offered developers are notified.
func (s *ProjectService) Post(ctx context.Context, clientID string, req dto.CreateProjectRequest) (*models.Project, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
	}

	qc, err := s.quota.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		ClientID:       clientID,
		Title:          req.Title,
		Description:    req.Description,
		Budget:         req.Budget,
		RequiredSkills: pq.StringArray(req.RequiredSkills),
		Status:         models.ProjectStatusOpen,
	}
	if err := s.repo.CreateWithQuota(ctx, project, qc.Usage.ID, s.quota.ProjectCeiling(qc)); err != nil {
		if errors.Is(err, repository.ErrQuotaExhausted) {
			s.metrics.RecordQuotaDenial(models.QuotaProjects)
			return nil, appErrors.Clone(appErrors.ErrQuotaExceeded, "project allowance exhausted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create project")
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &clientID,
		Action:     models.AuditActionProjectPost,
		Resource:   "project",
		ResourceID: &project.ID,
	}); err != nil {
		s.logger.Warn("failed to record project audit log", zap.Error(err))
	}

	// First rotation pass is best effort: a project with no eligible pool
	// stays OPEN until developers become available.
	if _, candidates, err := s.rotation.FormBatch(ctx, project); err != nil {
		s.logger.Warn("initial batch formation failed",
			zap.String("project_id", project.ID), zap.Error(err))
	} else {
		for i := range candidates {
			s.notifier.Notify(models.NotificationProjectOffered, candidates[i].DeveloperID, map[string]string{
				"project_id":   project.ID,
				"candidate_id": candidates[i].ID,
				"title":        project.Title,
			})
		}
	}

	return project, nil
}

// Get returns a project, restricted to its owner unless the caller is an
// admin.
func (s *ProjectService) Get(ctx context.Context, projectID, callerID string, callerRole models.UserRole) (*models.Project, error) {
	project, err := s.repo.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}
	if callerRole != models.RoleAdmin && project.ClientID != callerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "project belongs to another client")
	}
	return project, nil
}

// List returns the caller's projects, newest first. Admins see every
// client's projects.
func (s *ProjectService) List(ctx context.Context, callerID string, callerRole models.UserRole) ([]models.Project, error) {
	var (
		projects []models.Project
		err      error
	)
	if callerRole == models.RoleAdmin {
		projects, err = s.repo.ListAll(ctx)
	} else {
		projects, err = s.repo.ListByClient(ctx, callerID)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list projects")
	}
	return projects, nil
}

// SetStatus is the admin switch for pausing or reopening a project. Only
// OPEN and CLOSED are reachable here; ASSIGNING and ACCEPTED stay owned by
// the rotation and accept flows.
func (s *ProjectService) SetStatus(ctx context.Context, adminID, projectID string, status models.ProjectStatus) error {
	if status != models.ProjectStatusOpen && status != models.ProjectStatusClosed {
		return appErrors.Clone(appErrors.ErrValidation, "status must be OPEN or CLOSED")
	}
	if err := s.repo.UpdateStatus(ctx, projectID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update project status")
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionAdminStatus,
		Resource:   "project",
		ResourceID: &projectID,
		NewValues:  []byte(`{"status":"` + string(status) + `"}`),
	}); err != nil {
		s.logger.Warn("failed to record status audit log", zap.Error(err))
	}
	return nil
}

// AssignDeveloper is the admin override: it writes a batch of one pending
// MANUAL_INVITE candidate for the chosen developer, bypassing rotation and
// quota. The rotation cursor is left untouched.
func (s *ProjectService) AssignDeveloper(ctx context.Context, adminID, projectID, developerID string) (*models.AssignmentBatch, error) {
	project, err := s.repo.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}

	developer, err := s.developers.FindByID(ctx, developerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "developer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load developer")
	}

	now := time.Now().UTC()
	deadline := now.Add(s.inviteDeadline)
	candidate := models.AssignmentCandidate{
		ClientID:                project.ClientID,
		DeveloperID:             developer.ID,
		LevelSnapshot:           developer.Level,
		ResponseMinutesSnapshot: developer.UsualResponseMinutes,
		SkillMatchPct:           SkillMatchPct(developer.Skills, project.RequiredSkills),
		AssignedAt:              now,
		AcceptanceDeadline:      &deadline,
		ResponseStatus:          models.ResponsePending,
		Source:                  models.SourceManualInvite,
	}

	batch, err := s.batches.CreateBatch(ctx, repository.CreateBatchParams{
		ProjectID:  projectID,
		Candidates: []models.AssignmentCandidate{candidate},
	})
	if err != nil {
		if errors.Is(err, repository.ErrProjectConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "project is no longer accepting assignments")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign developer")
	}

	s.notifier.Notify(models.NotificationProjectOffered, developer.ID, map[string]string{
		"project_id": projectID,
		"title":      project.Title,
	})
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionAdminAssign,
		Resource:   "project",
		ResourceID: &projectID,
		NewValues:  []byte(`{"developer_id":"` + developerID + `"}`),
	}); err != nil {
		s.logger.Warn("failed to record admin assign audit log", zap.Error(err))
	}

	return batch, nil
}
