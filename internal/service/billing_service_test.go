package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/repository"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
	"github.com/devmatch-io/devmatch-api/pkg/jobs"
)

type statementStoreStub struct {
	created  *models.StatementJob
	jobsByID map[string]*models.StatementJob
	updates  []repository.UpdateStatementJobParams
}

func (s *statementStoreStub) Create(ctx context.Context, job *models.StatementJob) error {
	job.ID = "job-1"
	job.CreatedAt = time.Now().UTC()
	s.created = job
	return nil
}

func (s *statementStoreStub) GetByID(ctx context.Context, id string) (*models.StatementJob, error) {
	if job, ok := s.jobsByID[id]; ok {
		return job, nil
	}
	if s.created != nil && s.created.ID == id {
		return s.created, nil
	}
	return nil, sql.ErrNoRows
}

func (s *statementStoreStub) Update(ctx context.Context, id string, params repository.UpdateStatementJobParams) error {
	s.updates = append(s.updates, params)
	return nil
}

func (s *statementStoreStub) ListQueued(ctx context.Context, limit int) ([]models.StatementJob, error) {
	return nil, nil
}

func (s *statementStoreStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.StatementJob, error) {
	return nil, nil
}

type dispatcherStub struct {
	enqueued []jobs.Job
	err      error
}

func (s *dispatcherStub) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, job)
	return nil
}

type generatorStub struct {
	result *ExportResult
	err    error
}

func (s *generatorStub) Generate(ctx context.Context, job *models.StatementJob) (*ExportResult, error) {
	return s.result, s.err
}

func newBillingFixture(store *statementStoreStub, queue *dispatcherStub) *BillingService {
	quota := NewQuotaService(freeTierRepo(1), nil, zap.NewNop(), QuotaConfig{})
	return NewBillingService(store, quota, queue, nil, nil, nil, zap.NewNop(), BillingServiceConfig{})
}

func TestBillingServiceRequestStatementQueuesJob(t *testing.T) {
	store := &statementStoreStub{}
	queue := &dispatcherStub{}
	service := newBillingFixture(store, queue)

	job, err := service.RequestStatement(context.Background(), "client-1", dto.StatementRequest{Format: "csv"})
	require.NoError(t, err)

	assert.Equal(t, models.StatementStatusQueued, job.Status)
	assert.Equal(t, "sub-1", job.SubscriptionID)
	assert.Equal(t, "client-1", job.CreatedBy)
	assert.Equal(t, models.StatementFormatCSV, job.Params.Format)

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, "job-1", queue.enqueued[0].ID)
	assert.Equal(t, "statement", queue.enqueued[0].Type)
}

func TestBillingServiceRequestStatementRejectsUnknownFormat(t *testing.T) {
	service := newBillingFixture(&statementStoreStub{}, &dispatcherStub{})

	_, err := service.RequestStatement(context.Background(), "client-1", dto.StatementRequest{Format: "xlsx"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestBillingServiceRequestStatementEnqueueFailureMarksFailed(t *testing.T) {
	store := &statementStoreStub{}
	queue := &dispatcherStub{err: errors.New("queue not started")}
	service := newBillingFixture(store, queue)

	_, err := service.RequestStatement(context.Background(), "client-1", dto.StatementRequest{Format: "pdf"})
	require.Error(t, err)

	require.NotEmpty(t, store.updates)
	last := store.updates[len(store.updates)-1]
	require.NotNil(t, last.Status)
	assert.Equal(t, models.StatementStatusFailed, *last.Status)
}

func TestBillingServiceGetStatementOwnership(t *testing.T) {
	job := &models.StatementJob{ID: "job-9", CreatedBy: "client-1", Status: models.StatementStatusFinished}
	store := &statementStoreStub{jobsByID: map[string]*models.StatementJob{"job-9": job}}
	service := newBillingFixture(store, &dispatcherStub{})

	_, err := service.GetStatement(context.Background(), "job-9", "client-2", models.RoleClient)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	got, err := service.GetStatement(context.Background(), "job-9", "someone-else", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "job-9", got.ID)

	_, err = service.GetStatement(context.Background(), "missing", "client-1", models.RoleClient)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestStatementWorkerFinishesJob(t *testing.T) {
	url := "/api/v1/billing/statements/download/tok"
	store := &statementStoreStub{jobsByID: map[string]*models.StatementJob{
		"job-1": {ID: "job-1", Status: models.StatementStatusQueued, Params: models.StatementJobParams{Format: models.StatementFormatCSV}},
	}}
	worker := NewStatementWorker(store, &generatorStub{result: &ExportResult{URL: url, Format: models.StatementFormatCSV}}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Type: "statement"})
	require.NoError(t, err)

	require.Len(t, store.updates, 2)
	require.NotNil(t, store.updates[0].Status)
	assert.Equal(t, models.StatementStatusProcessing, *store.updates[0].Status)

	final := store.updates[1]
	require.NotNil(t, final.Status)
	assert.Equal(t, models.StatementStatusFinished, *final.Status)
	require.NotNil(t, final.ResultURL)
	assert.Equal(t, url, *final.ResultURL)
}

func TestStatementWorkerRequeuesOnTransientFailure(t *testing.T) {
	store := &statementStoreStub{jobsByID: map[string]*models.StatementJob{
		"job-1": {ID: "job-1", Status: models.StatementStatusQueued},
	}}
	worker := NewStatementWorker(store, &generatorStub{err: errors.New("db unavailable")}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 0})
	require.Error(t, err)

	last := store.updates[len(store.updates)-1]
	require.NotNil(t, last.Status)
	assert.Equal(t, models.StatementStatusQueued, *last.Status)
}

func TestStatementWorkerFailsAfterRetriesExhausted(t *testing.T) {
	store := &statementStoreStub{jobsByID: map[string]*models.StatementJob{
		"job-1": {ID: "job-1", Status: models.StatementStatusQueued},
	}}
	worker := NewStatementWorker(store, &generatorStub{err: errors.New("render failed")}, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)

	last := store.updates[len(store.updates)-1]
	require.NotNil(t, last.Status)
	assert.Equal(t, models.StatementStatusFailed, *last.Status)
	require.NotNil(t, last.ErrorMessage)
}
