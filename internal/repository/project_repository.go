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

const projectColumns = `id, client_id, title, description, budget, required_skills, status, current_batch_id, contact_reveal_enabled, contact_revealed_developer_id, created_at, updated_at`

// ProjectRepository persists projects.
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository constructs the repository.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// FindByID returns a project by identifier.
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*models.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE id = $1 LIMIT 1`, projectColumns)
	var project models.Project
	if err := r.db.GetContext(ctx, &project, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find project by id: %w", err)
	}
	return &project, nil
}

// ListByClient returns a client's projects, newest first.
func (r *ProjectRepository) ListByClient(ctx context.Context, clientID string) ([]models.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE client_id = $1 ORDER BY created_at DESC`, projectColumns)
	var projects []models.Project
	if err := r.db.SelectContext(ctx, &projects, query, clientID); err != nil {
		return nil, fmt.Errorf("list projects by client: %w", err)
	}
	return projects, nil
}

// ListAll returns every project, newest first. Admin listing path.
func (r *ProjectRepository) ListAll(ctx context.Context) ([]models.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects ORDER BY created_at DESC`, projectColumns)
	var projects []models.Project
	if err := r.db.SelectContext(ctx, &projects, query); err != nil {
		return nil, fmt.Errorf("list all projects: %w", err)
	}
	return projects, nil
}

// CreateWithQuota inserts the project and consumes one projects-per-period
// unit in a single transaction. A nil ceiling skips the quota write
// (unlimited tier). When the conditional increment matches no row the whole
// transaction rolls back and ErrQuotaExhausted is returned.
func (r *ProjectRepository) CreateWithQuota(ctx context.Context, project *models.Project, usageID string, ceiling *int) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin project transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if ceiling != nil {
		const consumeQuery = `UPDATE subscription_usage SET projects_posted = projects_posted + 1, updated_at = $2
WHERE id = $1 AND projects_posted < $3`
		var result sql.Result
		if result, err = tx.ExecContext(ctx, consumeQuery, usageID, now, *ceiling); err != nil {
			return fmt.Errorf("consume project slot: %w", err)
		}
		var affected int64
		if affected, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("check project slot rows: %w", err)
		}
		if affected == 0 {
			err = ErrQuotaExhausted
			return err
		}
	}

	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.Status == "" {
		project.Status = models.ProjectStatusOpen
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	insertQuery := fmt.Sprintf(`INSERT INTO projects (%s)
VALUES (:id, :client_id, :title, :description, :budget, :required_skills, :status, :current_batch_id, :contact_reveal_enabled, :contact_revealed_developer_id, :created_at, :updated_at)`, projectColumns)
	if _, err = tx.NamedExecContext(ctx, insertQuery, project); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit project transaction: %w", err)
	}
	return nil
}

// UpdateStatus flips the project status unconditionally (admin paths).
func (r *ProjectRepository) UpdateStatus(ctx context.Context, id string, status models.ProjectStatus) error {
	const query = `UPDATE projects SET status = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check project status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
