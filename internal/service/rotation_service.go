package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/repository"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
)

type rotationDeveloperRepository interface {
	ListEligible(ctx context.Context, skills []string) ([]models.DeveloperProfile, error)
}

type rotationAssignmentRepository interface {
	GetCursor(ctx context.Context, poolKey string) (*models.RotationCursor, error)
	CreateBatch(ctx context.Context, params repository.CreateBatchParams) (*models.AssignmentBatch, error)
}

// RotationConfig tunes batch formation.
type RotationConfig struct {
	BatchSize          int
	AcceptanceDeadline time.Duration
	PoolCacheEnabled   bool
	PoolCacheTTL       time.Duration
}

// RotationService forms assignment batches round-robin over the pool of
// eligible developers for a skill set.
type RotationService struct {
	developers rotationDeveloperRepository
	assignment rotationAssignmentRepository
	cache      *CacheService
	metrics    *MetricsService
	logger     *zap.Logger
	config     RotationConfig
}

// NewRotationService constructs a RotationService.
func NewRotationService(developers rotationDeveloperRepository, assignment rotationAssignmentRepository, cache *CacheService, metrics *MetricsService, logger *zap.Logger, config RotationConfig) *RotationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.AcceptanceDeadline <= 0 {
		config.AcceptanceDeadline = 48 * time.Hour
	}
	return &RotationService{
		developers: developers,
		assignment: assignment,
		cache:      cache,
		metrics:    metrics,
		logger:     logger,
		config:     config,
	}
}

// PoolKey derives the rotation cursor key for a required-skill set:
// lowercased, deduplicated, sorted, pipe-joined. Projects requiring the same
// skills share one cursor.
func PoolKey(skills []string) string {
	seen := make(map[string]struct{}, len(skills))
	normalized := make([]string, 0, len(skills))
	for _, skill := range skills {
		s := strings.ToLower(strings.TrimSpace(skill))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		normalized = append(normalized, s)
	}
	sort.Strings(normalized)
	return strings.Join(normalized, "|")
}

// SkillMatchPct computes the share of required skills the developer covers,
// as a whole percentage.
// Informational only; imperfect matches still enter the pool.
func SkillMatchPct(developerSkills, requiredSkills []string) int {
	if len(requiredSkills) == 0 {
		return 100
	}
	have := make(map[string]struct{}, len(developerSkills))
	for _, skill := range developerSkills {
		have[strings.ToLower(strings.TrimSpace(skill))] = struct{}{}
	}
	matched := 0
	for _, skill := range requiredSkills {
		if _, ok := have[strings.ToLower(strings.TrimSpace(skill))]; ok {
			matched++
		}
	}
	return matched * 100 / len(requiredSkills)
}

// orderPool sorts in place: seniority descending, usual response time
// ascending, then id for a stable total order.
func orderPool(pool []models.DeveloperProfile) {
	sort.Slice(pool, func(i, j int) bool {
		if ri, rj := pool[i].Level.Rank(), pool[j].Level.Rank(); ri != rj {
			return ri > rj
		}
		if pool[i].UsualResponseMinutes != pool[j].UsualResponseMinutes {
			return pool[i].UsualResponseMinutes < pool[j].UsualResponseMinutes
		}
		return pool[i].ID < pool[j].ID
	})
}

// rotate returns up to batchSize developers starting immediately after the
// cursor position, wrapping around the ordered pool. An unknown or empty
// cursor starts at the head.
func rotate(pool []models.DeveloperProfile, lastDeveloperID string, batchSize int) []models.DeveloperProfile {
	if len(pool) == 0 {
		return nil
	}
	start := 0
	if lastDeveloperID != "" {
		for i := range pool {
			if pool[i].ID == lastDeveloperID {
				start = (i + 1) % len(pool)
				break
			}
		}
	}
	if batchSize > len(pool) {
		batchSize = len(pool)
	}
	out := make([]models.DeveloperProfile, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		out = append(out, pool[(start+i)%len(pool)])
	}
	return out
}

// Pool returns the ordered eligible pool for a skill set, reading through
// the cache when enabled.
func (s *RotationService) Pool(ctx context.Context, requiredSkills []string) ([]models.DeveloperProfile, error) {
	key := fmt.Sprintf("rotation:pool:%s", PoolKey(requiredSkills))
	if s.config.PoolCacheEnabled {
		var cached []models.DeveloperProfile
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}

	pool, err := s.developers.ListEligible(ctx, requiredSkills)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load developer pool")
	}
	orderPool(pool)

	if s.config.PoolCacheEnabled {
		if err := s.cache.Set(ctx, key, pool, s.config.PoolCacheTTL); err != nil {
			s.logger.Warn("failed to cache rotation pool", zap.Error(err))
		}
	}
	return pool, nil
}

// FormBatch runs one rotation pass for the project: select the ordered pool,
// pick the next slice after the cursor, and write batch plus candidates plus
// cursor advance in one transaction. Returns the batch and its candidates.
func (s *RotationService) FormBatch(ctx context.Context, project *models.Project) (*models.AssignmentBatch, []models.AssignmentCandidate, error) {
	pool, err := s.Pool(ctx, project.RequiredSkills)
	if err != nil {
		return nil, nil, err
	}
	if len(pool) == 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "no eligible developers for the required skills")
	}

	poolKey := PoolKey(project.RequiredSkills)
	lastDeveloperID := ""
	cursor, err := s.assignment.GetCursor(ctx, poolKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rotation cursor")
	}
	if cursor != nil {
		lastDeveloperID = cursor.LastDeveloperID
	}

	selected := rotate(pool, lastDeveloperID, s.config.BatchSize)

	now := time.Now().UTC()
	deadline := now.Add(s.config.AcceptanceDeadline)
	candidates := make([]models.AssignmentCandidate, 0, len(selected))
	for _, dev := range selected {
		candidates = append(candidates, models.AssignmentCandidate{
			ClientID:                project.ClientID,
			DeveloperID:             dev.ID,
			LevelSnapshot:           dev.Level,
			ResponseMinutesSnapshot: dev.UsualResponseMinutes,
			SkillMatchPct:           SkillMatchPct(dev.Skills, project.RequiredSkills),
			AssignedAt:              now,
			AcceptanceDeadline:      &deadline,
			ResponseStatus:          models.ResponsePending,
			Source:                  models.SourceAutoRotation,
		})
	}

	batch, err := s.assignment.CreateBatch(ctx, repository.CreateBatchParams{
		ProjectID:  project.ID,
		PoolKey:    poolKey,
		Candidates: candidates,
	})
	if err != nil {
		if errors.Is(err, repository.ErrProjectConflict) {
			return nil, nil, appErrors.Clone(appErrors.ErrConflict, "project is no longer accepting batches")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment batch")
	}

	s.metrics.RecordBatchFormed()
	s.logger.Info("assignment batch formed",
		zap.String("project_id", project.ID),
		zap.String("batch_id", batch.ID),
		zap.String("pool_key", poolKey),
		zap.Int("candidates", len(candidates)))

	return batch, candidates, nil
}
