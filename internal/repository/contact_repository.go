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

// ContactRepository persists grants and the append-only reveal log.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs the repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// FindGrant resolves the grant governing a reveal: a project-scoped grant
// wins over a permanent one.
func (r *ContactRepository) FindGrant(ctx context.Context, clientID, developerID, projectID string) (*models.ContactGrant, error) {
	const query = `SELECT id, client_id, developer_id, project_id, allow_email, allow_phone, allow_whatsapp, expires_at, created_at
FROM contact_grants
WHERE client_id = $1 AND developer_id = $2 AND (project_id = $3 OR project_id IS NULL)
ORDER BY project_id NULLS LAST LIMIT 1`
	var grant models.ContactGrant
	if err := r.db.GetContext(ctx, &grant, query, clientID, developerID, projectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find contact grant: %w", err)
	}
	return &grant, nil
}

// RecordRevealParams bundles the event row with its optional quota write.
// CountsAgainstLimit on the event is ignored; first-vs-repeat is decided
// inside the transaction.
type RecordRevealParams struct {
	Event        models.ContactRevealEvent
	UsageID      string
	ClickCeiling *int
}

// RecordReveal appends the reveal event. The usage row is locked first so
// concurrent reveals for the same client serialize, then first-vs-repeat is
// decided from prior events: only the first reveal per (project, client)
// counts against the limit and, when a ceiling applies, consumes one contact
// click with a conditional upsert. A ceiling hit rolls everything back and
// returns ErrQuotaExhausted. The insert branch is guarded too, so a ceiling
// of zero denies even the first reveal.
func (r *ContactRepository) RecordReveal(ctx context.Context, params RecordRevealParams) (event *models.ContactRevealEvent, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reveal transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	event = &params.Event
	now := time.Now().UTC()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	const lockQuery = `SELECT id FROM subscription_usage WHERE id = $1 FOR UPDATE`
	var lockedID string
	if err = tx.GetContext(ctx, &lockedID, lockQuery, params.UsageID); err != nil {
		return nil, fmt.Errorf("lock usage row: %w", err)
	}

	const seenQuery = `SELECT EXISTS (SELECT 1 FROM contact_reveal_events WHERE project_id = $1 AND client_id = $2)`
	var seen bool
	if err = tx.GetContext(ctx, &seen, seenQuery, event.ProjectID, event.ClientID); err != nil {
		return nil, fmt.Errorf("check prior reveals: %w", err)
	}
	event.CountsAgainstLimit = !seen

	if event.CountsAgainstLimit && params.ClickCeiling != nil {
		const consumeQuery = `INSERT INTO usage_contact_clicks (usage_id, project_id, clicks)
SELECT $1, $2, 1 WHERE $3 > 0
ON CONFLICT (usage_id, project_id) DO UPDATE SET clicks = usage_contact_clicks.clicks + 1
WHERE usage_contact_clicks.clicks < $3`
		var result sql.Result
		if result, err = tx.ExecContext(ctx, consumeQuery, params.UsageID, event.ProjectID, *params.ClickCeiling); err != nil {
			return nil, fmt.Errorf("consume contact click: %w", err)
		}
		var affected int64
		if affected, err = result.RowsAffected(); err != nil {
			return nil, fmt.Errorf("check contact click rows: %w", err)
		}
		if affected == 0 {
			err = ErrQuotaExhausted
			return nil, err
		}
	}

	const eventQuery = `INSERT INTO contact_reveal_events (id, project_id, client_id, developer_id, batch_id, channel, ip_address, user_agent, counts_against_limit, created_at)
VALUES (:id, :project_id, :client_id, :developer_id, :batch_id, :channel, :ip_address, :user_agent, :counts_against_limit, :created_at)`
	if _, err = tx.NamedExecContext(ctx, eventQuery, event); err != nil {
		return nil, fmt.Errorf("insert reveal event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reveal transaction: %w", err)
	}
	return event, nil
}

// CreateGrant writes an explicit grant (admin or client initiated).
func (r *ContactRepository) CreateGrant(ctx context.Context, grant *models.ContactGrant) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO contact_grants (id, client_id, developer_id, project_id, allow_email, allow_phone, allow_whatsapp, expires_at, created_at)
VALUES (:id, :client_id, :developer_id, :project_id, :allow_email, :allow_phone, :allow_whatsapp, :expires_at, :created_at)
ON CONFLICT (client_id, developer_id, project_id) DO UPDATE SET allow_email = EXCLUDED.allow_email, allow_phone = EXCLUDED.allow_phone, allow_whatsapp = EXCLUDED.allow_whatsapp, expires_at = EXCLUDED.expires_at`
	if _, err := r.db.NamedExecContext(ctx, query, grant); err != nil {
		return fmt.Errorf("create contact grant: %w", err)
	}
	return nil
}
