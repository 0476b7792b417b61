package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmatch-io/devmatch-api/internal/models"
)

func TestContactRepositoryFindGrantPrefersProjectScope(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewContactRepository(db)

	rows := sqlmock.NewRows([]string{"id", "client_id", "developer_id", "project_id", "allow_email", "allow_phone", "allow_whatsapp", "expires_at", "created_at"}).
		AddRow("grant-1", "client-1", "dev-1", "proj-1", true, false, true, nil, time.Now().UTC())

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY project_id NULLS LAST LIMIT 1")).
		WithArgs("client-1", "dev-1", "proj-1").
		WillReturnRows(rows)

	grant, err := repo.FindGrant(context.Background(), "client-1", "dev-1", "proj-1")
	require.NoError(t, err)
	require.NotNil(t, grant.ProjectID)
	assert.Equal(t, "proj-1", *grant.ProjectID)
	assert.False(t, grant.AllowPhone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectRevealTxStart(mock sqlmock.Sqlmock, seen bool) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM subscription_usage WHERE id = $1 FOR UPDATE")).
		WithArgs("usage-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("usage-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM contact_reveal_events")).
		WithArgs("proj-1", "client-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(seen))
}

func TestContactRepositoryRecordRevealFirstCounts(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewContactRepository(db)

	ceiling := 20

	expectRevealTxStart(mock, false)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO usage_contact_clicks")).
		WithArgs("usage-1", "proj-1", ceiling).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO contact_reveal_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := repo.RecordReveal(context.Background(), RecordRevealParams{
		Event: models.ContactRevealEvent{
			ProjectID:   "proj-1",
			ClientID:    "client-1",
			DeveloperID: "dev-1",
			Channel:     "email",
		},
		UsageID:      "usage-1",
		ClickCeiling: &ceiling,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.True(t, event.CountsAgainstLimit)
	assert.False(t, event.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepositoryRecordRevealCeilingHit(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewContactRepository(db)

	ceiling := 3

	expectRevealTxStart(mock, false)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO usage_contact_clicks")).
		WithArgs("usage-1", "proj-1", ceiling).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.RecordReveal(context.Background(), RecordRevealParams{
		Event: models.ContactRevealEvent{
			ProjectID:   "proj-1",
			ClientID:    "client-1",
			DeveloperID: "dev-1",
			Channel:     "phone",
		},
		UsageID:      "usage-1",
		ClickCeiling: &ceiling,
	})
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepositoryRecordRevealZeroCeilingDeniesFirst(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewContactRepository(db)

	ceiling := 0

	expectRevealTxStart(mock, false)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO usage_contact_clicks")).
		WithArgs("usage-1", "proj-1", ceiling).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.RecordReveal(context.Background(), RecordRevealParams{
		Event: models.ContactRevealEvent{
			ProjectID:   "proj-1",
			ClientID:    "client-1",
			DeveloperID: "dev-1",
			Channel:     "email",
		},
		UsageID:      "usage-1",
		ClickCeiling: &ceiling,
	})
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepositoryRecordRevealRepeatSkipsQuota(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewContactRepository(db)

	ceiling := 3

	expectRevealTxStart(mock, true)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO contact_reveal_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := repo.RecordReveal(context.Background(), RecordRevealParams{
		Event: models.ContactRevealEvent{
			ProjectID:   "proj-1",
			ClientID:    "client-1",
			DeveloperID: "dev-1",
			Channel:     "email",
		},
		UsageID:      "usage-1",
		ClickCeiling: &ceiling,
	})
	require.NoError(t, err)
	assert.False(t, event.CountsAgainstLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepositoryCreateGrantUpserts(t *testing.T) {
	db, mock, cleanup := newAssignmentRepoMock(t)
	defer cleanup()
	repo := NewContactRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO contact_grants")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	grant := &models.ContactGrant{
		ClientID:    "client-1",
		DeveloperID: "dev-1",
		AllowEmail:  true,
	}
	err := repo.CreateGrant(context.Background(), grant)
	require.NoError(t, err)
	assert.NotEmpty(t, grant.ID)
	assert.False(t, grant.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
