package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/repository"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
)

type projectRepoStub struct {
	projects  map[string]*models.Project
	byClient  []models.Project
	all       []models.Project
	statuses  map[string]models.ProjectStatus
	createErr error
	created   []*models.Project
}

func (s *projectRepoStub) FindByID(ctx context.Context, id string) (*models.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

func (s *projectRepoStub) ListByClient(ctx context.Context, clientID string) ([]models.Project, error) {
	return s.byClient, nil
}

func (s *projectRepoStub) ListAll(ctx context.Context) ([]models.Project, error) {
	return s.all, nil
}

func (s *projectRepoStub) UpdateStatus(ctx context.Context, id string, status models.ProjectStatus) error {
	if _, ok := s.projects[id]; !ok {
		return sql.ErrNoRows
	}
	if s.statuses == nil {
		s.statuses = map[string]models.ProjectStatus{}
	}
	s.statuses[id] = status
	return nil
}

func (s *projectRepoStub) CreateWithQuota(ctx context.Context, project *models.Project, usageID string, ceiling *int) error {
	if s.createErr != nil {
		return s.createErr
	}
	project.ID = "proj-new"
	s.created = append(s.created, project)
	return nil
}

type batchCreatorStub struct {
	params    []repository.CreateBatchParams
	createErr error
}

func (s *batchCreatorStub) CreateBatch(ctx context.Context, params repository.CreateBatchParams) (*models.AssignmentBatch, error) {
	s.params = append(s.params, params)
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &models.AssignmentBatch{ID: "batch-1", ProjectID: params.ProjectID}, nil
}

type projectFixture struct {
	repo     *projectRepoStub
	batches  *batchCreatorStub
	rotation *rotationRepoStub
	notifier *notifierStub
	audit    *auditRecorderStub
	service  *ProjectService
}

func newProjectFixture(repo *projectRepoStub, quotaRepo *quotaRepoStub, pool ...models.DeveloperProfile) *projectFixture {
	batches := &batchCreatorStub{}
	rotationRepo := &rotationRepoStub{}
	notifier := &notifierStub{}
	audit := &auditRecorderStub{}
	developers := &developerPoolStub{pool: pool}
	quota := NewQuotaService(quotaRepo, nil, zap.NewNop(), QuotaConfig{})
	rotation := NewRotationService(developers, rotationRepo, nil, nil, zap.NewNop(), RotationConfig{BatchSize: 5})
	service := NewProjectService(repo, &developerFinderStub{developer: devProfile()}, batches, quota, rotation, notifier, audit, nil, nil, zap.NewNop(), 0)
	return &projectFixture{repo: repo, batches: batches, rotation: rotationRepo, notifier: notifier, audit: audit, service: service}
}

func devProfile() *models.DeveloperProfile {
	return &models.DeveloperProfile{
		ID:                   "dev-1",
		FullName:             "Dana Developer",
		Level:                models.LevelExpert,
		UsualResponseMinutes: 30,
		Skills:               []string{"go", "postgres"},
	}
}

func validProjectRequest() dto.CreateProjectRequest {
	return dto.CreateProjectRequest{
		Title:          "Build payment service",
		Description:    "Stripe integration for checkout",
		Budget:         5000,
		RequiredSkills: []string{"go", "postgres"},
	}
}

func TestProjectServicePostFormsBatchAndNotifies(t *testing.T) {
	repo := &projectRepoStub{projects: map[string]*models.Project{}}
	f := newProjectFixture(repo, freeTierRepo(0), *devProfile())

	project, err := f.service.Post(context.Background(), "client-1", validProjectRequest())
	require.NoError(t, err)
	assert.Equal(t, "proj-new", project.ID)
	assert.Equal(t, models.ProjectStatusOpen, project.Status)

	require.Len(t, f.rotation.batchParams, 1)
	assert.Equal(t, "go|postgres", f.rotation.batchParams[0].PoolKey)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "PROJECT_OFFERED:dev-1", f.notifier.events[0])
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionProjectPost, f.audit.logs[0].Action)
}

func TestProjectServicePostEmptyPoolStillSucceeds(t *testing.T) {
	repo := &projectRepoStub{projects: map[string]*models.Project{}}
	f := newProjectFixture(repo, freeTierRepo(0))

	project, err := f.service.Post(context.Background(), "client-1", validProjectRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusOpen, project.Status)
	assert.Empty(t, f.notifier.events)
}

func TestProjectServicePostQuotaExhausted(t *testing.T) {
	repo := &projectRepoStub{projects: map[string]*models.Project{}, createErr: repository.ErrQuotaExhausted}
	f := newProjectFixture(repo, freeTierRepo(3))

	_, err := f.service.Post(context.Background(), "client-1", validProjectRequest())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Status, appErr.Status)
	assert.Empty(t, f.rotation.batchParams)
}

func TestProjectServicePostInvalidPayload(t *testing.T) {
	f := newProjectFixture(&projectRepoStub{projects: map[string]*models.Project{}}, freeTierRepo(0))

	_, err := f.service.Post(context.Background(), "client-1", dto.CreateProjectRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestProjectServiceGetOwnerOnly(t *testing.T) {
	repo := &projectRepoStub{projects: map[string]*models.Project{
		"proj-1": {ID: "proj-1", ClientID: "client-1"},
	}}
	f := newProjectFixture(repo, freeTierRepo(0))

	_, err := f.service.Get(context.Background(), "proj-1", "client-other", models.RoleClient)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	project, err := f.service.Get(context.Background(), "proj-1", "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", project.ID)
}

func TestProjectServiceListScopedByRole(t *testing.T) {
	repo := &projectRepoStub{
		byClient: []models.Project{{ID: "proj-1", ClientID: "client-1"}},
		all: []models.Project{
			{ID: "proj-1", ClientID: "client-1"},
			{ID: "proj-2", ClientID: "client-2"},
		},
	}
	f := newProjectFixture(repo, freeTierRepo(0))

	own, err := f.service.List(context.Background(), "client-1", models.RoleClient)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "client-1", own[0].ClientID)

	all, err := f.service.List(context.Background(), "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProjectServiceSetStatus(t *testing.T) {
	repo := &projectRepoStub{projects: map[string]*models.Project{
		"proj-1": {ID: "proj-1", ClientID: "client-1", Status: models.ProjectStatusOpen},
	}}
	f := newProjectFixture(repo, freeTierRepo(0))

	err := f.service.SetStatus(context.Background(), "admin-1", "proj-1", models.ProjectStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusClosed, repo.statuses["proj-1"])
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionAdminStatus, f.audit.logs[0].Action)
}

func TestProjectServiceSetStatusRejectsLifecycleStates(t *testing.T) {
	repo := &projectRepoStub{projects: map[string]*models.Project{
		"proj-1": {ID: "proj-1", ClientID: "client-1", Status: models.ProjectStatusOpen},
	}}
	f := newProjectFixture(repo, freeTierRepo(0))

	err := f.service.SetStatus(context.Background(), "admin-1", "proj-1", models.ProjectStatusAccepted)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.statuses)
}

func TestProjectServiceSetStatusMissingProject(t *testing.T) {
	f := newProjectFixture(&projectRepoStub{projects: map[string]*models.Project{}}, freeTierRepo(0))

	err := f.service.SetStatus(context.Background(), "admin-1", "missing", models.ProjectStatusClosed)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestProjectServiceAssignDeveloperBypassesRotation(t *testing.T) {
	repo := &projectRepoStub{projects: map[string]*models.Project{
		"proj-1": {ID: "proj-1", ClientID: "client-1", Title: "Build payment service", RequiredSkills: []string{"go"}, Status: models.ProjectStatusOpen},
	}}
	f := newProjectFixture(repo, freeTierRepo(0))

	batch, err := f.service.AssignDeveloper(context.Background(), "admin-1", "proj-1", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", batch.ID)

	require.Len(t, f.batches.params, 1)
	params := f.batches.params[0]
	assert.Empty(t, params.PoolKey)
	require.Len(t, params.Candidates, 1)
	candidate := params.Candidates[0]
	assert.Equal(t, models.SourceManualInvite, candidate.Source)
	assert.Equal(t, models.LevelExpert, candidate.LevelSnapshot)
	assert.Equal(t, 100, candidate.SkillMatchPct)
	require.NotNil(t, candidate.AcceptanceDeadline)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "PROJECT_OFFERED:dev-1", f.notifier.events[0])
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionAdminAssign, f.audit.logs[0].Action)
}

func TestProjectServiceAssignDeveloperProjectClosed(t *testing.T) {
	repo := &projectRepoStub{projects: map[string]*models.Project{
		"proj-1": {ID: "proj-1", ClientID: "client-1", Status: models.ProjectStatusClosed},
	}}
	f := newProjectFixture(repo, freeTierRepo(0))
	f.batches.createErr = repository.ErrProjectConflict

	_, err := f.service.AssignDeveloper(context.Background(), "admin-1", "proj-1", "dev-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}
