package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/repository"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
)

type contactRepoStub struct {
	grant        *models.ContactGrant
	seen         bool
	revealErr    error
	grantErr     error
	revealParams []repository.RecordRevealParams
	recorded     []*models.ContactRevealEvent
	grants       []*models.ContactGrant
}

func (s *contactRepoStub) FindGrant(ctx context.Context, clientID, developerID, projectID string) (*models.ContactGrant, error) {
	if s.grant == nil {
		return nil, sql.ErrNoRows
	}
	return s.grant, nil
}

func (s *contactRepoStub) RecordReveal(ctx context.Context, params repository.RecordRevealParams) (*models.ContactRevealEvent, error) {
	s.revealParams = append(s.revealParams, params)
	if s.revealErr != nil {
		return nil, s.revealErr
	}
	event := params.Event
	event.ID = "reveal-1"
	event.CountsAgainstLimit = !s.seen
	s.recorded = append(s.recorded, &event)
	return &event, nil
}

func (s *contactRepoStub) CreateGrant(ctx context.Context, grant *models.ContactGrant) error {
	if s.grantErr != nil {
		return s.grantErr
	}
	grant.ID = "grant-new"
	s.grants = append(s.grants, grant)
	return nil
}

type developerFinderStub struct {
	developer *models.DeveloperProfile
}

func (s *developerFinderStub) FindByID(ctx context.Context, id string) (*models.DeveloperProfile, error) {
	if s.developer == nil {
		return nil, sql.ErrNoRows
	}
	return s.developer, nil
}

type auditRecorderStub struct {
	logs []*models.AuditLog
}

func (s *auditRecorderStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type revealFixture struct {
	contacts *contactRepoStub
	audit    *auditRecorderStub
	notifier *notifierStub
	service  *RevealService
}

func newRevealFixture(contacts *contactRepoStub, quotaRepo *quotaRepoStub) *revealFixture {
	revealedDev := "dev-1"
	projects := &projectFinderStub{projects: map[string]*models.Project{
		"proj-1": {
			ID:                         "proj-1",
			ClientID:                   "client-1",
			Status:                     models.ProjectStatusAccepted,
			ContactRevealEnabled:       true,
			ContactRevealedDeveloperID: &revealedDev,
		},
	}}
	developers := &developerFinderStub{developer: &models.DeveloperProfile{
		ID:              "dev-1",
		FullName:        "Dana Developer",
		ContactEmail:    "dana@example.com",
		ContactPhone:    "+15550100",
		ContactWhatsApp: "+15550100",
	}}
	audit := &auditRecorderStub{}
	notifier := &notifierStub{}
	quota := NewQuotaService(quotaRepo, nil, zap.NewNop(), QuotaConfig{})
	service := NewRevealService(contacts, developers, projects, audit, quota, notifier, nil, nil, zap.NewNop())
	return &revealFixture{contacts: contacts, audit: audit, notifier: notifier, service: service}
}

func fullGrant() *models.ContactGrant {
	return &models.ContactGrant{
		ID:            "grant-1",
		ClientID:      "client-1",
		DeveloperID:   "dev-1",
		AllowEmail:    true,
		AllowPhone:    true,
		AllowWhatsApp: true,
	}
}

func TestRevealServiceFirstRevealCounts(t *testing.T) {
	contacts := &contactRepoStub{grant: fullGrant()}
	f := newRevealFixture(contacts, freeTierRepo(0))

	info, err := f.service.Reveal(context.Background(), "proj-1", "client-1", dto.RevealRequest{Channel: "email"})
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", info.Email)
	assert.Equal(t, "+15550100", info.Phone)

	require.Len(t, contacts.recorded, 1)
	assert.True(t, contacts.recorded[0].CountsAgainstLimit)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "CONTACT_REVEALED:dev-1", f.notifier.events[0])
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionContactReveal, f.audit.logs[0].Action)
}

func TestRevealServiceRepeatRevealIsFree(t *testing.T) {
	contacts := &contactRepoStub{grant: fullGrant(), seen: true}
	f := newRevealFixture(contacts, freeTierRepo(0))

	_, err := f.service.Reveal(context.Background(), "proj-1", "client-1", dto.RevealRequest{Channel: "phone"})
	require.NoError(t, err)
	require.Len(t, contacts.recorded, 1)
	assert.False(t, contacts.recorded[0].CountsAgainstLimit)
}

func TestRevealServiceDeniedChannelStaysEmpty(t *testing.T) {
	grant := fullGrant()
	grant.AllowPhone = false
	grant.AllowWhatsApp = false
	contacts := &contactRepoStub{grant: grant}
	f := newRevealFixture(contacts, freeTierRepo(0))

	info, err := f.service.Reveal(context.Background(), "proj-1", "client-1", dto.RevealRequest{Channel: "email"})
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", info.Email)
	assert.Empty(t, info.Phone)
	assert.Empty(t, info.WhatsApp)
}

func TestRevealServiceNoGrant(t *testing.T) {
	f := newRevealFixture(&contactRepoStub{}, freeTierRepo(0))

	_, err := f.service.Reveal(context.Background(), "proj-1", "client-1", dto.RevealRequest{Channel: "email"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRevealServiceExpiredGrant(t *testing.T) {
	grant := fullGrant()
	expired := time.Now().UTC().Add(-time.Hour)
	grant.ExpiresAt = &expired
	f := newRevealFixture(&contactRepoStub{grant: grant}, freeTierRepo(0))

	_, err := f.service.Reveal(context.Background(), "proj-1", "client-1", dto.RevealRequest{Channel: "email"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRevealServiceWrongClient(t *testing.T) {
	f := newRevealFixture(&contactRepoStub{grant: fullGrant()}, freeTierRepo(0))

	_, err := f.service.Reveal(context.Background(), "proj-1", "client-other", dto.RevealRequest{Channel: "email"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRevealServiceDisabledBeforeAcceptance(t *testing.T) {
	contacts := &contactRepoStub{grant: fullGrant()}
	f := newRevealFixture(contacts, freeTierRepo(0))
	notAccepted := &models.Project{ID: "proj-2", ClientID: "client-1", Status: models.ProjectStatusOpen}
	f.service.projects.(*projectFinderStub).projects["proj-2"] = notAccepted

	_, err := f.service.Reveal(context.Background(), "proj-2", "client-1", dto.RevealRequest{Channel: "email"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRevealDisabled.Code, appErrors.FromError(err).Code)
}

func TestRevealServiceQuotaExhausted(t *testing.T) {
	contacts := &contactRepoStub{grant: fullGrant(), revealErr: repository.ErrQuotaExhausted}
	f := newRevealFixture(contacts, freeTierRepo(0))

	_, err := f.service.Reveal(context.Background(), "proj-1", "client-1", dto.RevealRequest{Channel: "email"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Status, appErr.Status)
	assert.Empty(t, f.notifier.events)
}

func TestRevealServiceInvalidChannel(t *testing.T) {
	f := newRevealFixture(&contactRepoStub{grant: fullGrant()}, freeTierRepo(0))

	_, err := f.service.Reveal(context.Background(), "proj-1", "client-1", dto.RevealRequest{Channel: "fax"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRevealServiceGrantExplicit(t *testing.T) {
	contacts := &contactRepoStub{}
	f := newRevealFixture(contacts, freeTierRepo(0))

	grant, err := f.service.Grant(context.Background(), "admin-1", dto.GrantContactRequest{
		ClientID:    "client-1",
		DeveloperID: "dev-1",
		AllowEmail:  true,
		AllowPhone:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "grant-new", grant.ID)
	require.Len(t, contacts.grants, 1)
	assert.True(t, contacts.grants[0].AllowEmail)
	assert.False(t, contacts.grants[0].AllowWhatsApp)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionAdminGrant, f.audit.logs[0].Action)
}

func TestRevealServiceGrantNeedsChannel(t *testing.T) {
	contacts := &contactRepoStub{}
	f := newRevealFixture(contacts, freeTierRepo(0))

	_, err := f.service.Grant(context.Background(), "admin-1", dto.GrantContactRequest{
		ClientID:    "client-1",
		DeveloperID: "dev-1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, contacts.grants)
}

func TestRevealServiceGrantUnknownDeveloper(t *testing.T) {
	contacts := &contactRepoStub{}
	f := newRevealFixture(contacts, freeTierRepo(0))
	f.service.developers.(*developerFinderStub).developer = nil

	_, err := f.service.Grant(context.Background(), "admin-1", dto.GrantContactRequest{
		ClientID:    "client-1",
		DeveloperID: "dev-missing",
		AllowEmail:  true,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
