package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/repository"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
)

type developerPoolStub struct {
	pool []models.DeveloperProfile
	err  error
}

func (s *developerPoolStub) ListEligible(ctx context.Context, skills []string) ([]models.DeveloperProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.DeveloperProfile, len(s.pool))
	copy(out, s.pool)
	return out, nil
}

type rotationRepoStub struct {
	cursor      *models.RotationCursor
	batchParams []repository.CreateBatchParams
	createErr   error
}

func (s *rotationRepoStub) GetCursor(ctx context.Context, poolKey string) (*models.RotationCursor, error) {
	if s.cursor == nil {
		return nil, sql.ErrNoRows
	}
	return s.cursor, nil
}

func (s *rotationRepoStub) CreateBatch(ctx context.Context, params repository.CreateBatchParams) (*models.AssignmentBatch, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.batchParams = append(s.batchParams, params)
	if len(params.Candidates) > 0 {
		s.cursor = &models.RotationCursor{
			PoolKey:         params.PoolKey,
			LastDeveloperID: params.Candidates[len(params.Candidates)-1].DeveloperID,
		}
	}
	return &models.AssignmentBatch{ID: "batch-1", ProjectID: params.ProjectID}, nil
}

func dev(id string, level models.DeveloperLevel, responseMinutes int, skills ...string) models.DeveloperProfile {
	return models.DeveloperProfile{
		ID:                   id,
		Level:                level,
		UsualResponseMinutes: responseMinutes,
		Skills:               skills,
	}
}

func TestPoolKeyNormalizes(t *testing.T) {
	assert.Equal(t, "go|postgres", PoolKey([]string{"Postgres", " go ", "GO"}))
	assert.Equal(t, "", PoolKey(nil))
}

func TestSkillMatchPct(t *testing.T) {
	assert.Equal(t, 100, SkillMatchPct([]string{"go", "postgres"}, []string{"go", "postgres"}))
	assert.Equal(t, 50, SkillMatchPct([]string{"go"}, []string{"go", "postgres"}))
	assert.Equal(t, 0, SkillMatchPct([]string{"rust"}, []string{"go", "postgres"}))
	assert.Equal(t, 100, SkillMatchPct(nil, nil))
}

func TestRotationServicePoolOrdersByLevel(t *testing.T) {
	developers := &developerPoolStub{pool: []models.DeveloperProfile{
		dev("dev-fresher", models.LevelFresher, 10, "go"),
		dev("dev-expert", models.LevelExpert, 60, "go"),
		dev("dev-mid", models.LevelMid, 5, "go"),
	}}
	service := NewRotationService(developers, &rotationRepoStub{}, nil, nil, zap.NewNop(), RotationConfig{BatchSize: 3})

	pool, err := service.Pool(context.Background(), []string{"go"})
	require.NoError(t, err)
	require.Len(t, pool, 3)
	assert.Equal(t, "dev-expert", pool[0].ID)
	assert.Equal(t, "dev-mid", pool[1].ID)
	assert.Equal(t, "dev-fresher", pool[2].ID)
}

func TestRotationServiceOrdersByResponseTimeWithinLevel(t *testing.T) {
	developers := &developerPoolStub{pool: []models.DeveloperProfile{
		dev("dev-slow", models.LevelExpert, 120, "go"),
		dev("dev-fast", models.LevelExpert, 15, "go"),
	}}
	service := NewRotationService(developers, &rotationRepoStub{}, nil, nil, zap.NewNop(), RotationConfig{})

	pool, err := service.Pool(context.Background(), []string{"go"})
	require.NoError(t, err)
	assert.Equal(t, "dev-fast", pool[0].ID)
}

func TestRotateStartsAfterCursor(t *testing.T) {
	pool := []models.DeveloperProfile{
		dev("d1", models.LevelExpert, 1),
		dev("d2", models.LevelExpert, 2),
		dev("d3", models.LevelExpert, 3),
	}

	selected := rotate(pool, "d1", 2)
	require.Len(t, selected, 2)
	assert.Equal(t, "d2", selected[0].ID)
	assert.Equal(t, "d3", selected[1].ID)
}

func TestRotateWrapsAround(t *testing.T) {
	pool := []models.DeveloperProfile{
		dev("d1", models.LevelExpert, 1),
		dev("d2", models.LevelExpert, 2),
		dev("d3", models.LevelExpert, 3),
	}

	selected := rotate(pool, "d3", 2)
	require.Len(t, selected, 2)
	assert.Equal(t, "d1", selected[0].ID)
	assert.Equal(t, "d2", selected[1].ID)
}

func TestRotateUnknownCursorStartsAtHead(t *testing.T) {
	pool := []models.DeveloperProfile{
		dev("d1", models.LevelExpert, 1),
		dev("d2", models.LevelExpert, 2),
	}

	selected := rotate(pool, "gone", 2)
	require.Len(t, selected, 2)
	assert.Equal(t, "d1", selected[0].ID)
}

func TestRotationServiceRoundRobinAcrossFormations(t *testing.T) {
	pool := make([]models.DeveloperProfile, 0, 4)
	for i := 1; i <= 4; i++ {
		pool = append(pool, dev(fmt.Sprintf("d%d", i), models.LevelExpert, i, "go"))
	}
	developers := &developerPoolStub{pool: pool}
	repo := &rotationRepoStub{}
	service := NewRotationService(developers, repo, nil, nil, zap.NewNop(), RotationConfig{BatchSize: 2})

	project := &models.Project{ID: "proj-1", ClientID: "client-1", RequiredSkills: []string{"go"}, Status: models.ProjectStatusOpen}

	_, first, err := service.FormBatch(context.Background(), project)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "d1", first[0].DeveloperID)
	assert.Equal(t, "d2", first[1].DeveloperID)

	_, second, err := service.FormBatch(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, "d3", second[0].DeveloperID)
	assert.Equal(t, "d4", second[1].DeveloperID)

	_, third, err := service.FormBatch(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, "d1", third[0].DeveloperID)
}

func TestRotationServiceFormBatchSnapshotsAndDeadline(t *testing.T) {
	developers := &developerPoolStub{pool: []models.DeveloperProfile{
		dev("dev-1", models.LevelExpert, 30, "go", "postgres"),
	}}
	repo := &rotationRepoStub{}
	service := NewRotationService(developers, repo, nil, nil, zap.NewNop(), RotationConfig{BatchSize: 5})

	project := &models.Project{ID: "proj-1", ClientID: "client-1", RequiredSkills: []string{"go", "postgres", "redis"}}
	_, candidates, err := service.FormBatch(context.Background(), project)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	candidate := candidates[0]
	assert.Equal(t, models.LevelExpert, candidate.LevelSnapshot)
	assert.Equal(t, 30, candidate.ResponseMinutesSnapshot)
	assert.Equal(t, 66, candidate.SkillMatchPct)
	assert.Equal(t, models.SourceAutoRotation, candidate.Source)
	require.NotNil(t, candidate.AcceptanceDeadline)
	assert.True(t, candidate.AcceptanceDeadline.After(candidate.AssignedAt))
}

func TestRotationServiceFormBatchEmptyPool(t *testing.T) {
	service := NewRotationService(&developerPoolStub{}, &rotationRepoStub{}, nil, nil, zap.NewNop(), RotationConfig{})

	_, _, err := service.FormBatch(context.Background(), &models.Project{ID: "proj-1", RequiredSkills: []string{"cobol"}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
