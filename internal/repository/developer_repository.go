package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devmatch-io/devmatch-api/internal/models"
)

const developerColumns = `id, user_id, full_name, skills, level, usual_response_minutes, available, approved, phone_verified, contact_email, contact_phone, contact_whatsapp, created_at, updated_at`

// DeveloperRepository provides access to developer profiles.
type DeveloperRepository struct {
	db *sqlx.DB
}

// NewDeveloperRepository constructs the repository.
func NewDeveloperRepository(db *sqlx.DB) *DeveloperRepository {
	return &DeveloperRepository{db: db}
}

// FindByID returns a developer profile by identifier.
func (r *DeveloperRepository) FindByID(ctx context.Context, id string) (*models.DeveloperProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM developer_profiles WHERE id = $1 LIMIT 1`, developerColumns)
	var dev models.DeveloperProfile
	if err := r.db.GetContext(ctx, &dev, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find developer by id: %w", err)
	}
	return &dev, nil
}

// FindByUserID returns the profile owned by the given account.
func (r *DeveloperRepository) FindByUserID(ctx context.Context, userID string) (*models.DeveloperProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM developer_profiles WHERE user_id = $1 LIMIT 1`, developerColumns)
	var dev models.DeveloperProfile
	if err := r.db.GetContext(ctx, &dev, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find developer by user id: %w", err)
	}
	return &dev, nil
}

// ListEligible returns the rotation pool for the given required skills:
// approved, available, phone-verified developers whose skill set overlaps the
// requirement. Ordering by seniority and responsiveness happens in the
// rotation service, which also snapshots match percentages.
func (r *DeveloperRepository) ListEligible(ctx context.Context, requiredSkills []string) ([]models.DeveloperProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM developer_profiles
WHERE approved = TRUE AND available = TRUE AND phone_verified = TRUE AND skills && $1
ORDER BY id ASC`, developerColumns)
	var pool []models.DeveloperProfile
	if err := r.db.SelectContext(ctx, &pool, query, pq.Array(requiredSkills)); err != nil {
		return nil, fmt.Errorf("list eligible developers: %w", err)
	}
	return pool, nil
}

// SetApproved flips the admin-approval flag.
func (r *DeveloperRepository) SetApproved(ctx context.Context, id string, approved bool) error {
	const query = `UPDATE developer_profiles SET approved = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, approved, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set developer approved: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approved rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetAvailability flips the availability flag for the profile owned by userID.
func (r *DeveloperRepository) SetAvailability(ctx context.Context, userID string, available bool) error {
	const query = `UPDATE developer_profiles SET available = $2, updated_at = $3 WHERE user_id = $1`
	result, err := r.db.ExecContext(ctx, query, userID, available, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set developer availability: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check availability rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
