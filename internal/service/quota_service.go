package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/models"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
)

type quotaSubscriptionRepository interface {
	GetActiveByClient(ctx context.Context, clientID string) (*models.Subscription, error)
	GetPackage(ctx context.Context, id string) (*models.Package, error)
	EnsureUsage(ctx context.Context, sub *models.Subscription, pkg *models.Package) (*models.SubscriptionUsage, error)
	CountContactClicks(ctx context.Context, usageID, projectID string) (int, error)
}

// QuotaContext bundles the billing rows an operation needs to enforce its
// quota. Ceilings derived from it feed the conditional increments the
// repositories execute.
type QuotaContext struct {
	Subscription *models.Subscription
	Package      *models.Package
	Usage        *models.SubscriptionUsage
}

// QuotaConfig carries tier defaults not stored on package rows.
type QuotaConfig struct {
	// FreeProjectsTotal is the lifetime project cap applied to free
	// packages that do not declare their own allowance.
	FreeProjectsTotal int
}

// QuotaService resolves the billing context for a client and answers
// advisory allow/deny questions. The answers are advisory only: the
// authoritative enforcement is the conditional increment the repositories
// run inside the gated transaction.
type QuotaService struct {
	repo    quotaSubscriptionRepository
	metrics *MetricsService
	logger  *zap.Logger
	config  QuotaConfig
}

// NewQuotaService constructs a QuotaService.
func NewQuotaService(repo quotaSubscriptionRepository, metrics *MetricsService, logger *zap.Logger, config QuotaConfig) *QuotaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FreeProjectsTotal <= 0 {
		config.FreeProjectsTotal = 3
	}
	return &QuotaService{repo: repo, metrics: metrics, logger: logger, config: config}
}

// Resolve loads the client's active subscription, its package and the usage
// row for the current period, creating the usage row on first touch.
func (s *QuotaService) Resolve(ctx context.Context, clientID string) (*QuotaContext, error) {
	sub, err := s.repo.GetActiveByClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "client has no active subscription")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}

	pkg, err := s.repo.GetPackage(ctx, sub.PackageID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load package")
	}

	usage, err := s.repo.EnsureUsage(ctx, sub, pkg)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load usage counters")
	}

	return &QuotaContext{Subscription: sub, Package: pkg, Usage: usage}, nil
}

// ProjectCeiling returns the effective project allowance, nil meaning
// unlimited. Free packages without an explicit allowance fall back to the
// configured lifetime cap.
func (s *QuotaService) ProjectCeiling(qc *QuotaContext) *int {
	if qc.Package.ProjectsPerMonth != nil {
		return qc.Package.ProjectsPerMonth
	}
	if qc.Package.IsFree {
		limit := s.config.FreeProjectsTotal
		return &limit
	}
	return nil
}

// ConnectCeiling returns the effective connect allowance, nil meaning
// unlimited.
func (s *QuotaService) ConnectCeiling(qc *QuotaContext) *int {
	return qc.Package.ConnectsPerMonth
}

// ContactClickCeiling returns the per-project reveal allowance, nil meaning
// unlimited.
func (s *QuotaService) ContactClickCeiling(qc *QuotaContext) *int {
	return qc.Package.ContactClicksPerProject
}

// Check answers an advisory quota question for one dimension. ProjectID is
// only consulted for the contact_reveals dimension. Callers must still rely
// on the conditional increment for correctness under concurrency.
func (s *QuotaService) Check(ctx context.Context, clientID string, dimension models.QuotaDimension, projectID string) (*models.QuotaDecision, error) {
	qc, err := s.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return s.decide(ctx, qc, dimension, projectID)
}

func (s *QuotaService) decide(ctx context.Context, qc *QuotaContext, dimension models.QuotaDimension, projectID string) (*models.QuotaDecision, error) {
	decision := &models.QuotaDecision{Dimension: dimension, Allowed: true, Limit: -1}

	var ceiling *int
	var used int
	switch dimension {
	case models.QuotaProjects:
		ceiling = s.ProjectCeiling(qc)
		used = qc.Usage.ProjectsPosted
	case models.QuotaConnects:
		ceiling = s.ConnectCeiling(qc)
		used = qc.Usage.ConnectsUsed
	case models.QuotaContactReveals:
		ceiling = s.ContactClickCeiling(qc)
		if ceiling != nil {
			clicks, err := s.repo.CountContactClicks(ctx, qc.Usage.ID, projectID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count contact clicks")
			}
			used = clicks
		}
	default:
		return nil, fmt.Errorf("unknown quota dimension %q", dimension)
	}

	decision.Used = used
	if ceiling == nil {
		return decision, nil
	}

	decision.Limit = *ceiling
	if used >= *ceiling {
		decision.Allowed = false
		decision.Reason = fmt.Sprintf("%s allowance of %d exhausted", dimension, *ceiling)
		s.metrics.RecordQuotaDenial(dimension)
	}
	return decision, nil
}

// Snapshot summarises the current period's consumption for the billing
// endpoints.
func (s *QuotaService) Snapshot(ctx context.Context, clientID string) (*models.UsageSnapshot, error) {
	qc, err := s.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}

	snapshot := &models.UsageSnapshot{
		SubscriptionID: qc.Subscription.ID,
		PackageName:    qc.Package.Name,
		PeriodStart:    qc.Usage.PeriodStart,
		PeriodEnd:      qc.Usage.PeriodEnd,
		ProjectsPosted: qc.Usage.ProjectsPosted,
		ConnectsUsed:   qc.Usage.ConnectsUsed,
		ProjectsLimit:  -1,
		ConnectsLimit:  -1,
		ClicksLimit:    -1,
	}
	if ceiling := s.ProjectCeiling(qc); ceiling != nil {
		snapshot.ProjectsLimit = *ceiling
	}
	if ceiling := s.ConnectCeiling(qc); ceiling != nil {
		snapshot.ConnectsLimit = *ceiling
	}
	if ceiling := s.ContactClickCeiling(qc); ceiling != nil {
		snapshot.ClicksLimit = *ceiling
	}
	return snapshot, nil
}
