package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devmatch-io/devmatch-api/internal/models"
)

// Sentinel errors surfaced by conditional writes. Services map these onto
// typed API errors.
var (
	// ErrNotPending means the candidate already holds a terminal status.
	ErrNotPending = errors.New("candidate is not pending")
	// ErrDeadlinePassed means the acceptance deadline elapsed; the row has
	// been flipped to EXPIRED as part of the same call.
	ErrDeadlinePassed = errors.New("acceptance deadline has passed")
	// ErrProjectConflict means another candidate won the project first.
	ErrProjectConflict = errors.New("project already accepted by another candidate")
	// ErrDuplicatePending means the developer already has a pending invite
	// from the same client.
	ErrDuplicatePending = errors.New("duplicate pending invite")
	// ErrQuotaExhausted means a conditional usage increment matched no row.
	ErrQuotaExhausted = errors.New("usage counter at ceiling")
)

const candidateColumns = `id, batch_id, project_id, client_id, developer_id, level_snapshot, response_minutes_snapshot, skill_match_pct, assigned_at, acceptance_deadline, response_status, responded_at, source, invite_title, invite_budget, invite_message`

// AssignmentRepository persists batches, candidates and the rotation cursor.
// Every composite mutation runs inside a single transaction so partial writes
// are impossible.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// GetCandidate returns one candidate row.
func (r *AssignmentRepository) GetCandidate(ctx context.Context, id string) (*models.AssignmentCandidate, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_candidates WHERE id = $1 LIMIT 1`, candidateColumns)
	var candidate models.AssignmentCandidate
	if err := r.db.GetContext(ctx, &candidate, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return &candidate, nil
}

// ListByDeveloper returns a developer's offers, newest first.
func (r *AssignmentRepository) ListByDeveloper(ctx context.Context, developerID string) ([]models.AssignmentCandidate, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_candidates WHERE developer_id = $1 ORDER BY assigned_at DESC`, candidateColumns)
	var candidates []models.AssignmentCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, developerID); err != nil {
		return nil, fmt.Errorf("list candidates by developer: %w", err)
	}
	return candidates, nil
}

// ListByBatch returns all candidates of one batch ordered by assignment rank.
func (r *AssignmentRepository) ListByBatch(ctx context.Context, batchID string) ([]models.AssignmentCandidate, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_candidates WHERE batch_id = $1 ORDER BY assigned_at ASC, id ASC`, candidateColumns)
	var candidates []models.AssignmentCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, batchID); err != nil {
		return nil, fmt.Errorf("list candidates by batch: %w", err)
	}
	return candidates, nil
}

// GetCursor returns the rotation cursor for a pool key, or sql.ErrNoRows.
func (r *AssignmentRepository) GetCursor(ctx context.Context, poolKey string) (*models.RotationCursor, error) {
	const query = `SELECT pool_key, last_developer_id, advanced_at FROM rotation_cursors WHERE pool_key = $1 LIMIT 1`
	var cursor models.RotationCursor
	if err := r.db.GetContext(ctx, &cursor, query, poolKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get rotation cursor: %w", err)
	}
	return &cursor, nil
}

// CreateBatchParams carries one rotation pass worth of writes. An empty
// PoolKey skips the cursor advance (admin overrides bypass rotation).
type CreateBatchParams struct {
	ProjectID  string
	PoolKey    string
	Candidates []models.AssignmentCandidate
}

// CreateBatch atomically creates the batch, its candidates, points the
// project at the batch and advances the rotation cursor. The cursor row is
// locked for the duration of the transaction.
func (r *AssignmentRepository) CreateBatch(ctx context.Context, params CreateBatchParams) (batch *models.AssignmentBatch, err error) {
	if len(params.Candidates) == 0 {
		return nil, fmt.Errorf("create batch: no candidates")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if params.PoolKey != "" {
		var lockedKey string
		const lockQuery = `SELECT pool_key FROM rotation_cursors WHERE pool_key = $1 FOR UPDATE`
		if err = tx.GetContext(ctx, &lockedKey, lockQuery, params.PoolKey); err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("lock rotation cursor: %w", err)
		}
		err = nil
	}

	now := time.Now().UTC()
	batch = &models.AssignmentBatch{
		ID:        uuid.NewString(),
		ProjectID: params.ProjectID,
		CreatedAt: now,
	}
	const batchQuery = `INSERT INTO assignment_batches (id, project_id, created_at) VALUES ($1, $2, $3)`
	if _, err = tx.ExecContext(ctx, batchQuery, batch.ID, batch.ProjectID, batch.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert assignment batch: %w", err)
	}

	candidateQuery := fmt.Sprintf(`INSERT INTO assignment_candidates (%s)
VALUES (:id, :batch_id, :project_id, :client_id, :developer_id, :level_snapshot, :response_minutes_snapshot, :skill_match_pct, :assigned_at, :acceptance_deadline, :response_status, :responded_at, :source, :invite_title, :invite_budget, :invite_message)`, candidateColumns)
	for i := range params.Candidates {
		candidate := &params.Candidates[i]
		if candidate.ID == "" {
			candidate.ID = uuid.NewString()
		}
		candidate.BatchID = &batch.ID
		candidate.ProjectID = &params.ProjectID
		if candidate.AssignedAt.IsZero() {
			candidate.AssignedAt = now
		}
		if candidate.ResponseStatus == "" {
			candidate.ResponseStatus = models.ResponsePending
		}
		if _, err = tx.NamedExecContext(ctx, candidateQuery, candidate); err != nil {
			return nil, fmt.Errorf("insert assignment candidate: %w", err)
		}
	}

	const projectQuery = `UPDATE projects SET current_batch_id = $2, status = 'ASSIGNING', updated_at = $3
WHERE id = $1 AND status IN ('OPEN', 'ASSIGNING')`
	var result sql.Result
	if result, err = tx.ExecContext(ctx, projectQuery, params.ProjectID, batch.ID, now); err != nil {
		return nil, fmt.Errorf("point project at batch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check project batch rows: %w", err)
	}
	if affected == 0 {
		err = ErrProjectConflict
		return nil, err
	}

	if params.PoolKey != "" {
		lastDeveloper := params.Candidates[len(params.Candidates)-1].DeveloperID
		const cursorQuery = `INSERT INTO rotation_cursors (pool_key, last_developer_id, advanced_at) VALUES ($1, $2, $3)
ON CONFLICT (pool_key) DO UPDATE SET last_developer_id = EXCLUDED.last_developer_id, advanced_at = EXCLUDED.advanced_at`
		if _, err = tx.ExecContext(ctx, cursorQuery, params.PoolKey, lastDeveloper, now); err != nil {
			return nil, fmt.Errorf("advance rotation cursor: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch transaction: %w", err)
	}
	return batch, nil
}

// Accept transitions a pending candidate to ACCEPTED. For project-linked
// candidates the project row flips conditionally in the same transaction, so
// two concurrent accepts on the same project cannot both succeed; sibling
// pending candidates of the batch are force-expired and an implicit
// project-scoped contact grant is written.
func (r *AssignmentRepository) Accept(ctx context.Context, candidateID string, now time.Time) (candidate *models.AssignmentCandidate, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin accept transaction: %w", err)
	}
	defer func() {
		if err != nil && !errors.Is(err, ErrDeadlinePassed) {
			_ = tx.Rollback()
		}
	}()

	candidate, err = lockCandidate(ctx, tx, candidateID)
	if err != nil {
		return nil, err
	}

	if candidate.ResponseStatus != models.ResponsePending {
		err = ErrNotPending
		return nil, err
	}

	if candidate.DeadlinePassed(now) {
		// Lazy expiry: persist the EXPIRED status so later reads agree.
		const expireQuery = `UPDATE assignment_candidates SET response_status = 'EXPIRED', responded_at = $2 WHERE id = $1 AND response_status = 'PENDING'`
		if _, execErr := tx.ExecContext(ctx, expireQuery, candidateID, now); execErr != nil {
			err = fmt.Errorf("expire overdue candidate: %w", execErr)
			return nil, err
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit expiry: %w", commitErr)
			return nil, err
		}
		err = ErrDeadlinePassed
		return nil, err
	}

	const acceptQuery = `UPDATE assignment_candidates SET response_status = 'ACCEPTED', responded_at = $2
WHERE id = $1 AND response_status = 'PENDING' AND (acceptance_deadline IS NULL OR acceptance_deadline > $2)`
	result, err := tx.ExecContext(ctx, acceptQuery, candidateID, now)
	if err != nil {
		return nil, fmt.Errorf("accept candidate: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check accept rows: %w", err)
	}
	if affected == 0 {
		err = ErrNotPending
		return nil, err
	}

	if candidate.ProjectID != nil {
		const projectQuery = `UPDATE projects SET status = 'ACCEPTED', contact_reveal_enabled = TRUE, contact_revealed_developer_id = $2, updated_at = $3
WHERE id = $1 AND status IN ('OPEN', 'ASSIGNING')`
		result, err = tx.ExecContext(ctx, projectQuery, *candidate.ProjectID, candidate.DeveloperID, now)
		if err != nil {
			return nil, fmt.Errorf("flip project to accepted: %w", err)
		}
		if affected, err = result.RowsAffected(); err != nil {
			return nil, fmt.Errorf("check project accept rows: %w", err)
		}
		if affected == 0 {
			err = ErrProjectConflict
			return nil, err
		}

		if candidate.BatchID != nil {
			const siblingQuery = `UPDATE assignment_candidates SET response_status = 'EXPIRED', responded_at = $3
WHERE batch_id = $1 AND id <> $2 AND response_status = 'PENDING'`
			if _, err = tx.ExecContext(ctx, siblingQuery, *candidate.BatchID, candidateID, now); err != nil {
				return nil, fmt.Errorf("expire sibling candidates: %w", err)
			}
		}

		const grantQuery = `INSERT INTO contact_grants (id, client_id, developer_id, project_id, allow_email, allow_phone, allow_whatsapp, expires_at, created_at)
VALUES ($1, $2, $3, $4, TRUE, TRUE, TRUE, NULL, $5)
ON CONFLICT (client_id, developer_id, project_id) DO NOTHING`
		if _, err = tx.ExecContext(ctx, grantQuery, uuid.NewString(), candidate.ClientID, candidate.DeveloperID, *candidate.ProjectID, now); err != nil {
			return nil, fmt.Errorf("create implicit contact grant: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit accept transaction: %w", err)
	}

	candidate.ResponseStatus = models.ResponseAccepted
	candidate.RespondedAt = &now
	return candidate, nil
}

// Reject transitions a pending candidate to REJECTED. Overdue candidates are
// lazily expired instead.
func (r *AssignmentRepository) Reject(ctx context.Context, candidateID string, now time.Time) (candidate *models.AssignmentCandidate, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reject transaction: %w", err)
	}
	defer func() {
		if err != nil && !errors.Is(err, ErrDeadlinePassed) {
			_ = tx.Rollback()
		}
	}()

	candidate, err = lockCandidate(ctx, tx, candidateID)
	if err != nil {
		return nil, err
	}

	if candidate.ResponseStatus != models.ResponsePending {
		err = ErrNotPending
		return nil, err
	}

	status := models.ResponseRejected
	if candidate.DeadlinePassed(now) {
		status = models.ResponseExpired
	}

	const query = `UPDATE assignment_candidates SET response_status = $2, responded_at = $3 WHERE id = $1 AND response_status = 'PENDING'`
	result, err := tx.ExecContext(ctx, query, candidateID, status, now)
	if err != nil {
		return nil, fmt.Errorf("reject candidate: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check reject rows: %w", err)
	}
	if affected == 0 {
		err = ErrNotPending
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reject transaction: %w", err)
	}

	if status == models.ResponseExpired {
		err = ErrDeadlinePassed
		return nil, err
	}

	candidate.ResponseStatus = status
	candidate.RespondedAt = &now
	return candidate, nil
}

// CreateManualInviteParams describes one direct invite and its optional
// connect-quota consumption.
type CreateManualInviteParams struct {
	Candidate      models.AssignmentCandidate
	UsageID        string
	ConnectCeiling *int
}

// CreateManualInvite writes a direct invite, rejecting duplicates against an
// existing pending invite from the same client to the same developer and
// consuming one connect inside the same transaction when a ceiling applies.
func (r *AssignmentRepository) CreateManualInvite(ctx context.Context, params CreateManualInviteParams) (candidate *models.AssignmentCandidate, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin invite transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	candidate = &params.Candidate
	now := time.Now().UTC()

	var exists int
	const dupQuery = `SELECT 1 FROM assignment_candidates
WHERE client_id = $1 AND developer_id = $2 AND source = 'MANUAL_INVITE' AND response_status = 'PENDING'
  AND (acceptance_deadline IS NULL OR acceptance_deadline > $3) LIMIT 1`
	if err = tx.GetContext(ctx, &exists, dupQuery, candidate.ClientID, candidate.DeveloperID, now); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check duplicate invite: %w", err)
	}
	if err == nil {
		err = ErrDuplicatePending
		return nil, err
	}
	err = nil

	if params.ConnectCeiling != nil {
		const consumeQuery = `UPDATE subscription_usage SET connects_used = connects_used + 1, updated_at = $2
WHERE id = $1 AND connects_used < $3`
		var result sql.Result
		if result, err = tx.ExecContext(ctx, consumeQuery, params.UsageID, now, *params.ConnectCeiling); err != nil {
			return nil, fmt.Errorf("consume connect: %w", err)
		}
		var affected int64
		if affected, err = result.RowsAffected(); err != nil {
			return nil, fmt.Errorf("check connect rows: %w", err)
		}
		if affected == 0 {
			err = ErrQuotaExhausted
			return nil, err
		}
	}

	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	if candidate.AssignedAt.IsZero() {
		candidate.AssignedAt = now
	}
	candidate.Source = models.SourceManualInvite
	if candidate.ResponseStatus == "" {
		candidate.ResponseStatus = models.ResponsePending
	}

	insertQuery := fmt.Sprintf(`INSERT INTO assignment_candidates (%s)
VALUES (:id, :batch_id, :project_id, :client_id, :developer_id, :level_snapshot, :response_minutes_snapshot, :skill_match_pct, :assigned_at, :acceptance_deadline, :response_status, :responded_at, :source, :invite_title, :invite_budget, :invite_message)`, candidateColumns)
	if _, err = tx.NamedExecContext(ctx, insertQuery, candidate); err != nil {
		return nil, fmt.Errorf("insert manual invite: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit invite transaction: %w", err)
	}
	return candidate, nil
}

func lockCandidate(ctx context.Context, tx *sqlx.Tx, candidateID string) (*models.AssignmentCandidate, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_candidates WHERE id = $1 FOR UPDATE`, candidateColumns)
	var candidate models.AssignmentCandidate
	if err := tx.GetContext(ctx, &candidate, query, candidateID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock candidate: %w", err)
	}
	return &candidate, nil
}
