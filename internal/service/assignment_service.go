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

type assignmentRepository interface {
	GetCandidate(ctx context.Context, id string) (*models.AssignmentCandidate, error)
	ListByDeveloper(ctx context.Context, developerID string) ([]models.AssignmentCandidate, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.AssignmentCandidate, error)
	Accept(ctx context.Context, candidateID string, now time.Time) (*models.AssignmentCandidate, error)
	Reject(ctx context.Context, candidateID string, now time.Time) (*models.AssignmentCandidate, error)
	CreateManualInvite(ctx context.Context, params repository.CreateManualInviteParams) (*models.AssignmentCandidate, error)
}

type assignmentProjectRepository interface {
	FindByID(ctx context.Context, id string) (*models.Project, error)
}

type offerNotifier interface {
	Notify(notificationType, recipientID string, payload interface{})
}

// AssignmentService drives the candidate state machine: offers listed by
// developers, accept/reject responses and direct invites.
type AssignmentService struct {
	repo      assignmentRepository
	projects  assignmentProjectRepository
	quota     *QuotaService
	rotation  *RotationService
	notifier  offerNotifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger

	inviteDeadline time.Duration
}

// NewAssignmentService constructs an AssignmentService.
func NewAssignmentService(repo assignmentRepository, projects assignmentProjectRepository, quota *QuotaService, rotation *RotationService, notifier offerNotifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, inviteDeadline time.Duration) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if inviteDeadline <= 0 {
		inviteDeadline = 48 * time.Hour
	}
	return &AssignmentService{
		repo:           repo,
		projects:       projects,
		quota:          quota,
		rotation:       rotation,
		notifier:       notifier,
		metrics:        metrics,
		validator:      validate,
		logger:         logger,
		inviteDeadline: inviteDeadline,
	}
}

// ListOffers returns a developer's candidates with their lazily-resolved
// status: stored PENDING rows past their deadline read as EXPIRED.
func (s *AssignmentService) ListOffers(ctx context.Context, developerID string) ([]dto.CandidateView, error) {
	candidates, err := s.repo.ListByDeveloper(ctx, developerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offers")
	}

	now := time.Now().UTC()
	views := make([]dto.CandidateView, 0, len(candidates))
	for i := range candidates {
		views = append(views, candidateView(&candidates[i], now))
	}
	return views, nil
}

// Accept records a developer's acceptance of an offer. Only the offered
// developer may respond. Exactly one candidate per project can ever win the
// conditional project flip.
func (s *AssignmentService) Accept(ctx context.Context, candidateID, developerID string) (*models.AssignmentCandidate, error) {
	candidate, err := s.loadOwnCandidate(ctx, candidateID, developerID)
	if err != nil {
		return nil, err
	}

	accepted, err := s.repo.Accept(ctx, candidateID, time.Now().UTC())
	if err != nil {
		return nil, s.mapResponseError(err)
	}

	s.metrics.RecordOfferResponse("accepted")
	s.notifier.Notify(models.NotificationOfferAccepted, candidate.ClientID, map[string]string{
		"candidate_id": candidate.ID,
		"developer_id": candidate.DeveloperID,
	})
	s.logger.Info("offer accepted",
		zap.String("candidate_id", candidateID),
		zap.String("developer_id", developerID))
	return accepted, nil
}

// Reject records a developer's rejection. For project-linked candidates a
// follow-up rotation pass is attempted best-effort so the slot moves to the
// next developer; its failure never surfaces to the caller.
func (s *AssignmentService) Reject(ctx context.Context, candidateID, developerID string) (*models.AssignmentCandidate, error) {
	candidate, err := s.loadOwnCandidate(ctx, candidateID, developerID)
	if err != nil {
		return nil, err
	}

	rejected, err := s.repo.Reject(ctx, candidateID, time.Now().UTC())
	if err != nil {
		return nil, s.mapResponseError(err)
	}

	s.metrics.RecordOfferResponse("rejected")
	s.notifier.Notify(models.NotificationOfferRejected, candidate.ClientID, map[string]string{
		"candidate_id": candidate.ID,
		"developer_id": candidate.DeveloperID,
	})

	if candidate.ProjectID != nil {
		s.reformBatch(ctx, *candidate.ProjectID)
	}
	return rejected, nil
}

// Invite sends a direct invite from a client to a developer, consuming one
// connect from the client's allowance inside the invite transaction.
func (s *AssignmentService) Invite(ctx context.Context, clientID string, req dto.InviteRequest) (*models.AssignmentCandidate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invite payload")
	}

	qc, err := s.quota.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	deadline := now.Add(s.inviteDeadline)
	candidate := models.AssignmentCandidate{
		ClientID:           clientID,
		DeveloperID:        req.DeveloperID,
		AssignedAt:         now,
		AcceptanceDeadline: &deadline,
		ResponseStatus:     models.ResponsePending,
		Source:             models.SourceManualInvite,
		InviteTitle:        &req.Title,
		InviteMessage:      &req.Message,
	}
	if req.Budget > 0 {
		candidate.InviteBudget = &req.Budget
	}

	created, err := s.repo.CreateManualInvite(ctx, repository.CreateManualInviteParams{
		Candidate:      candidate,
		UsageID:        qc.Usage.ID,
		ConnectCeiling: s.quota.ConnectCeiling(qc),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicatePending):
			return nil, appErrors.Clone(appErrors.ErrDuplicateInvite, "a pending invite to this developer already exists")
		case errors.Is(err, repository.ErrQuotaExhausted):
			s.metrics.RecordQuotaDenial(models.QuotaConnects)
			return nil, appErrors.Clone(appErrors.ErrQuotaExceeded, "connect allowance exhausted")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invite")
		}
	}

	s.notifier.Notify(models.NotificationInviteReceived, created.DeveloperID, map[string]string{
		"candidate_id": created.ID,
		"client_id":    clientID,
		"title":        req.Title,
	})
	return created, nil
}

// Overview returns a project's current batch state for its owner or an
// admin.
func (s *AssignmentService) Overview(ctx context.Context, projectID string) (*dto.AssignmentOverview, error) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}

	now := time.Now().UTC()
	overview := &dto.AssignmentOverview{
		ProjectID:           project.ID,
		ProjectStatus:       project.Status,
		BatchID:             project.CurrentBatchID,
		RevealedDeveloperID: project.ContactRevealedDeveloperID,
		Candidates:          []dto.CandidateView{},
		GeneratedAt:         now,
	}

	if project.CurrentBatchID != nil {
		candidates, err := s.repo.ListByBatch(ctx, *project.CurrentBatchID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batch candidates")
		}
		for i := range candidates {
			overview.Candidates = append(overview.Candidates, candidateView(&candidates[i], now))
		}
	}
	return overview, nil
}

func (s *AssignmentService) loadOwnCandidate(ctx context.Context, candidateID, developerID string) (*models.AssignmentCandidate, error) {
	candidate, err := s.repo.GetCandidate(ctx, candidateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "candidate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidate")
	}
	if candidate.DeveloperID != developerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "candidate belongs to another developer")
	}
	return candidate, nil
}

func (s *AssignmentService) mapResponseError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotPending):
		return appErrors.Clone(appErrors.ErrAlreadyResponded, "invite already responded to")
	case errors.Is(err, repository.ErrDeadlinePassed):
		return appErrors.Clone(appErrors.ErrInviteExpired, "acceptance deadline has passed")
	case errors.Is(err, repository.ErrProjectConflict):
		return appErrors.Clone(appErrors.ErrConflict, "project already accepted another candidate")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "candidate not found")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record response")
	}
}

// reformBatch runs a follow-up rotation pass after a rejection. Errors are
// logged only.
func (s *AssignmentService) reformBatch(ctx context.Context, projectID string) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		s.logger.Warn("follow-up batch skipped: project load failed",
			zap.String("project_id", projectID), zap.Error(err))
		return
	}
	if project.Status != models.ProjectStatusOpen && project.Status != models.ProjectStatusAssigning {
		return
	}
	if _, _, err := s.rotation.FormBatch(ctx, project); err != nil {
		s.logger.Warn("follow-up batch formation failed",
			zap.String("project_id", projectID), zap.Error(err))
	}
}

func candidateView(c *models.AssignmentCandidate, now time.Time) dto.CandidateView {
	return dto.CandidateView{
		ID:                      c.ID,
		DeveloperID:             c.DeveloperID,
		LevelSnapshot:           c.LevelSnapshot,
		ResponseMinutesSnapshot: c.ResponseMinutesSnapshot,
		SkillMatchPct:           c.SkillMatchPct,
		AssignedAt:              c.AssignedAt,
		AcceptanceDeadline:      c.AcceptanceDeadline,
		Status:                  c.EffectiveStatus(now),
		RespondedAt:             c.RespondedAt,
		Source:                  c.Source,
	}
}
