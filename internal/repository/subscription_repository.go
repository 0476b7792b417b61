package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devmatch-io/devmatch-api/internal/models"
)

// SubscriptionRepository provides access to packages, subscriptions and the
// period-scoped usage ledger.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository constructs the repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetActiveByClient returns the client's active subscription.
func (r *SubscriptionRepository) GetActiveByClient(ctx context.Context, clientID string) (*models.Subscription, error) {
	const query = `SELECT id, client_id, package_id, provider, status, current_period_start, current_period_end, created_at
FROM subscriptions WHERE client_id = $1 AND status = 'ACTIVE' ORDER BY created_at DESC LIMIT 1`
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, clientID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return &sub, nil
}

// GetPackage returns the package definition.
func (r *SubscriptionRepository) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	const query = `SELECT id, name, projects_per_month, contact_clicks_per_project, connects_per_month, is_free, created_at
FROM packages WHERE id = $1 LIMIT 1`
	var pkg models.Package
	if err := r.db.GetContext(ctx, &pkg, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return &pkg, nil
}

// EnsureUsage returns the usage row for the subscription's current period,
// lazily creating it on first access. Free packages use a single lifetime row
// keyed on the subscription creation time with a NULL period end.
func (r *SubscriptionRepository) EnsureUsage(ctx context.Context, sub *models.Subscription, pkg *models.Package) (*models.SubscriptionUsage, error) {
	periodStart := sub.CurrentPeriodStart
	var periodEnd *time.Time
	if pkg.IsFree {
		periodStart = sub.CreatedAt
	} else {
		end := sub.CurrentPeriodEnd
		periodEnd = &end
	}

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO subscription_usage (id, subscription_id, period_start, period_end, projects_posted, connects_used, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, 0, $5, $5)
ON CONFLICT (subscription_id, period_start) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, insertQuery, uuid.NewString(), sub.ID, periodStart, periodEnd, now); err != nil {
		return nil, fmt.Errorf("ensure usage row: %w", err)
	}

	const selectQuery = `SELECT id, subscription_id, period_start, period_end, projects_posted, connects_used, created_at, updated_at
FROM subscription_usage WHERE subscription_id = $1 AND period_start = $2 LIMIT 1`
	var usage models.SubscriptionUsage
	if err := r.db.GetContext(ctx, &usage, selectQuery, sub.ID, periodStart); err != nil {
		return nil, fmt.Errorf("load usage row: %w", err)
	}
	return &usage, nil
}

// CountContactClicks returns the clicks consumed for one project within a
// usage period.
func (r *SubscriptionRepository) CountContactClicks(ctx context.Context, usageID, projectID string) (int, error) {
	const query = `SELECT COALESCE(clicks, 0) FROM usage_contact_clicks WHERE usage_id = $1 AND project_id = $2`
	var clicks int
	if err := r.db.GetContext(ctx, &clicks, query, usageID, projectID); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count contact clicks: %w", err)
	}
	return clicks, nil
}

// ListUsageBetween returns usage rows overlapping the window, oldest first.
// Used by the statement exporter.
func (r *SubscriptionRepository) ListUsageBetween(ctx context.Context, subscriptionID string, from, to *time.Time) ([]models.SubscriptionUsage, error) {
	query := `SELECT id, subscription_id, period_start, period_end, projects_posted, connects_used, created_at, updated_at
FROM subscription_usage WHERE subscription_id = $1`
	args := []interface{}{subscriptionID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND period_start >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND period_start <= $%d", len(args))
	}
	query += " ORDER BY period_start ASC"

	var rows []models.SubscriptionUsage
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list usage rows: %w", err)
	}
	return rows, nil
}
