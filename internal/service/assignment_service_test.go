package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/repository"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
)

type assignmentRepoStub struct {
	candidates   map[string]*models.AssignmentCandidate
	byDeveloper  []models.AssignmentCandidate
	byBatch      []models.AssignmentCandidate
	acceptErr    error
	rejectErr    error
	inviteErr    error
	inviteParams []repository.CreateManualInviteParams
}

func (s *assignmentRepoStub) GetCandidate(ctx context.Context, id string) (*models.AssignmentCandidate, error) {
	c, ok := s.candidates[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return c, nil
}

func (s *assignmentRepoStub) ListByDeveloper(ctx context.Context, developerID string) ([]models.AssignmentCandidate, error) {
	return s.byDeveloper, nil
}

func (s *assignmentRepoStub) ListByBatch(ctx context.Context, batchID string) ([]models.AssignmentCandidate, error) {
	return s.byBatch, nil
}

func (s *assignmentRepoStub) Accept(ctx context.Context, candidateID string, now time.Time) (*models.AssignmentCandidate, error) {
	if s.acceptErr != nil {
		return nil, s.acceptErr
	}
	c := *s.candidates[candidateID]
	c.ResponseStatus = models.ResponseAccepted
	c.RespondedAt = &now
	return &c, nil
}

func (s *assignmentRepoStub) Reject(ctx context.Context, candidateID string, now time.Time) (*models.AssignmentCandidate, error) {
	if s.rejectErr != nil {
		return nil, s.rejectErr
	}
	c := *s.candidates[candidateID]
	c.ResponseStatus = models.ResponseRejected
	c.RespondedAt = &now
	return &c, nil
}

func (s *assignmentRepoStub) CreateManualInvite(ctx context.Context, params repository.CreateManualInviteParams) (*models.AssignmentCandidate, error) {
	s.inviteParams = append(s.inviteParams, params)
	if s.inviteErr != nil {
		return nil, s.inviteErr
	}
	c := params.Candidate
	c.ID = "cand-invite"
	return &c, nil
}

type projectFinderStub struct {
	projects map[string]*models.Project
}

func (s *projectFinderStub) FindByID(ctx context.Context, id string) (*models.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

type notifierStub struct {
	events []string
}

func (s *notifierStub) Notify(notificationType, recipientID string, payload interface{}) {
	s.events = append(s.events, notificationType+":"+recipientID)
}

func pendingCandidate(id, developerID string, projectID *string) *models.AssignmentCandidate {
	deadline := time.Now().UTC().Add(24 * time.Hour)
	return &models.AssignmentCandidate{
		ID:                 id,
		ProjectID:          projectID,
		ClientID:           "client-1",
		DeveloperID:        developerID,
		AssignedAt:         time.Now().UTC(),
		AcceptanceDeadline: &deadline,
		ResponseStatus:     models.ResponsePending,
		Source:             models.SourceAutoRotation,
	}
}

func newAssignmentServiceFixture(repo *assignmentRepoStub, projects *projectFinderStub, quotaRepo *quotaRepoStub) (*AssignmentService, *notifierStub) {
	notifier := &notifierStub{}
	quota := NewQuotaService(quotaRepo, nil, zap.NewNop(), QuotaConfig{})
	rotation := NewRotationService(&developerPoolStub{}, &rotationRepoStub{}, nil, nil, zap.NewNop(), RotationConfig{})
	service := NewAssignmentService(repo, projects, quota, rotation, notifier, nil, nil, zap.NewNop(), 0)
	return service, notifier
}

func TestAssignmentServiceAccept(t *testing.T) {
	repo := &assignmentRepoStub{candidates: map[string]*models.AssignmentCandidate{
		"cand-1": pendingCandidate("cand-1", "dev-1", nil),
	}}
	service, notifier := newAssignmentServiceFixture(repo, &projectFinderStub{}, freeTierRepo(0))

	accepted, err := service.Accept(context.Background(), "cand-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseAccepted, accepted.ResponseStatus)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, "OFFER_ACCEPTED:client-1", notifier.events[0])
}

func TestAssignmentServiceAcceptWrongDeveloper(t *testing.T) {
	repo := &assignmentRepoStub{candidates: map[string]*models.AssignmentCandidate{
		"cand-1": pendingCandidate("cand-1", "dev-1", nil),
	}}
	service, _ := newAssignmentServiceFixture(repo, &projectFinderStub{}, freeTierRepo(0))

	_, err := service.Accept(context.Background(), "cand-1", "dev-other")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceAcceptAlreadyResponded(t *testing.T) {
	repo := &assignmentRepoStub{
		candidates: map[string]*models.AssignmentCandidate{"cand-1": pendingCandidate("cand-1", "dev-1", nil)},
		acceptErr:  repository.ErrNotPending,
	}
	service, _ := newAssignmentServiceFixture(repo, &projectFinderStub{}, freeTierRepo(0))

	_, err := service.Accept(context.Background(), "cand-1", "dev-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyResponded.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceAcceptPastDeadline(t *testing.T) {
	repo := &assignmentRepoStub{
		candidates: map[string]*models.AssignmentCandidate{"cand-1": pendingCandidate("cand-1", "dev-1", nil)},
		acceptErr:  repository.ErrDeadlinePassed,
	}
	service, _ := newAssignmentServiceFixture(repo, &projectFinderStub{}, freeTierRepo(0))

	_, err := service.Accept(context.Background(), "cand-1", "dev-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInviteExpired.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceAcceptLosesProjectRace(t *testing.T) {
	repo := &assignmentRepoStub{
		candidates: map[string]*models.AssignmentCandidate{"cand-1": pendingCandidate("cand-1", "dev-1", nil)},
		acceptErr:  repository.ErrProjectConflict,
	}
	service, _ := newAssignmentServiceFixture(repo, &projectFinderStub{}, freeTierRepo(0))

	_, err := service.Accept(context.Background(), "cand-1", "dev-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceRejectNotifiesClient(t *testing.T) {
	repo := &assignmentRepoStub{candidates: map[string]*models.AssignmentCandidate{
		"cand-1": pendingCandidate("cand-1", "dev-1", nil),
	}}
	service, notifier := newAssignmentServiceFixture(repo, &projectFinderStub{}, freeTierRepo(0))

	rejected, err := service.Reject(context.Background(), "cand-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseRejected, rejected.ResponseStatus)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, "OFFER_REJECTED:client-1", notifier.events[0])
}

func TestAssignmentServiceRejectUnknownCandidate(t *testing.T) {
	service, _ := newAssignmentServiceFixture(&assignmentRepoStub{candidates: map[string]*models.AssignmentCandidate{}}, &projectFinderStub{}, freeTierRepo(0))

	_, err := service.Reject(context.Background(), "missing", "dev-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceInvite(t *testing.T) {
	repo := &assignmentRepoStub{candidates: map[string]*models.AssignmentCandidate{}}
	quotaRepo := freeTierRepo(0)
	quotaRepo.pkg.ConnectsPerMonth = intPtr(10)
	service, notifier := newAssignmentServiceFixture(repo, &projectFinderStub{}, quotaRepo)

	created, err := service.Invite(context.Background(), "client-1", dto.InviteRequest{
		DeveloperID: "dev-1",
		Title:       "API integration",
		Budget:      2500,
		Message:     "interested?",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SourceManualInvite, created.Source)
	assert.Nil(t, created.ProjectID)

	require.Len(t, repo.inviteParams, 1)
	params := repo.inviteParams[0]
	assert.Equal(t, "usage-1", params.UsageID)
	require.NotNil(t, params.ConnectCeiling)
	assert.Equal(t, 10, *params.ConnectCeiling)
	require.NotNil(t, params.Candidate.AcceptanceDeadline)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "INVITE_RECEIVED:dev-1", notifier.events[0])
}

func TestAssignmentServiceInviteDuplicatePending(t *testing.T) {
	repo := &assignmentRepoStub{
		candidates: map[string]*models.AssignmentCandidate{},
		inviteErr:  repository.ErrDuplicatePending,
	}
	service, _ := newAssignmentServiceFixture(repo, &projectFinderStub{}, freeTierRepo(0))

	_, err := service.Invite(context.Background(), "client-1", dto.InviteRequest{DeveloperID: "dev-1", Title: "x"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateInvite.Code, appErrors.FromError(err).Code)
}

func TestAssignmentServiceInviteConnectsExhausted(t *testing.T) {
	repo := &assignmentRepoStub{
		candidates: map[string]*models.AssignmentCandidate{},
		inviteErr:  repository.ErrQuotaExhausted,
	}
	service, _ := newAssignmentServiceFixture(repo, &projectFinderStub{}, freeTierRepo(0))

	_, err := service.Invite(context.Background(), "client-1", dto.InviteRequest{DeveloperID: "dev-1", Title: "x"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Status, appErr.Status)
}

func TestAssignmentServiceListOffersResolvesExpiry(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	repo := &assignmentRepoStub{byDeveloper: []models.AssignmentCandidate{
		{ID: "cand-1", DeveloperID: "dev-1", ResponseStatus: models.ResponsePending, AcceptanceDeadline: &past},
		{ID: "cand-2", DeveloperID: "dev-1", ResponseStatus: models.ResponsePending, AcceptanceDeadline: &future},
	}}
	service, _ := newAssignmentServiceFixture(repo, &projectFinderStub{}, freeTierRepo(0))

	offers, err := service.ListOffers(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, models.ResponseExpired, offers[0].Status)
	assert.Equal(t, models.ResponsePending, offers[1].Status)
}

func TestAssignmentServiceOverview(t *testing.T) {
	batchID := "batch-1"
	projects := &projectFinderStub{projects: map[string]*models.Project{
		"proj-1": {ID: "proj-1", ClientID: "client-1", Status: models.ProjectStatusAssigning, CurrentBatchID: &batchID},
	}}
	repo := &assignmentRepoStub{byBatch: []models.AssignmentCandidate{
		*pendingCandidate("cand-1", "dev-1", strPtr("proj-1")),
	}}
	service, _ := newAssignmentServiceFixture(repo, projects, freeTierRepo(0))

	overview, err := service.Overview(context.Background(), "proj-1")
	require.NoError(t, err)
	require.NotNil(t, overview.BatchID)
	assert.Equal(t, batchID, *overview.BatchID)
	require.Len(t, overview.Candidates, 1)
	assert.Equal(t, "dev-1", overview.Candidates[0].DeveloperID)
}

func strPtr(s string) *string { return &s }
