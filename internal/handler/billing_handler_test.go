package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/middleware"
	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/service"
)

type billingServiceMock struct {
	snapshot    *models.UsageSnapshot
	snapshotErr error
	decision    *models.QuotaDecision
	job         *models.StatementJob
	jobErr      error
	download    *service.StatementDownload
	downloadErr error

	requestCalled bool
	lastDimension models.QuotaDimension
}

func (m *billingServiceMock) Snapshot(ctx context.Context, clientID string) (*models.UsageSnapshot, error) {
	return m.snapshot, m.snapshotErr
}

func (m *billingServiceMock) CheckQuota(ctx context.Context, clientID string, dimension models.QuotaDimension, projectID string) (*models.QuotaDecision, error) {
	m.lastDimension = dimension
	return m.decision, nil
}

func (m *billingServiceMock) RequestStatement(ctx context.Context, clientID string, req dto.StatementRequest) (*models.StatementJob, error) {
	m.requestCalled = true
	return m.job, m.jobErr
}

func (m *billingServiceMock) GetStatement(ctx context.Context, id, clientID string, role models.UserRole) (*models.StatementJob, error) {
	return m.job, m.jobErr
}

func (m *billingServiceMock) ResolveDownload(ctx context.Context, token string) (*service.StatementDownload, error) {
	return m.download, m.downloadErr
}

func newBillingContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestBillingHandlerUsage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &billingServiceMock{
		snapshot: &models.UsageSnapshot{PackageName: "Free", ProjectsPosted: 2, ProjectsLimit: 3},
	}
	handler := NewBillingHandler(mockSvc)

	c, w := newBillingContext(http.MethodGet, "/billing/usage", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "client-1", Role: models.RoleClient})

	handler.Usage(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Free")
}

func TestBillingHandlerUsageUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewBillingHandler(&billingServiceMock{})

	c, w := newBillingContext(http.MethodGet, "/billing/usage", nil)
	handler.Usage(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBillingHandlerQuota(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &billingServiceMock{
		decision: &models.QuotaDecision{Dimension: models.QuotaProjects, Allowed: false, Limit: 3, Used: 3},
	}
	handler := NewBillingHandler(mockSvc)

	c, w := newBillingContext(http.MethodGet, "/billing/quota?dimension=projects", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "client-1", Role: models.RoleClient})

	handler.Quota(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.QuotaProjects, mockSvc.lastDimension)
}

func TestBillingHandlerQuotaUnknownDimension(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewBillingHandler(&billingServiceMock{})

	c, w := newBillingContext(http.MethodGet, "/billing/quota?dimension=widgets", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "client-1", Role: models.RoleClient})

	handler.Quota(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingHandlerRequestStatement(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &billingServiceMock{
		job: &models.StatementJob{ID: "job-1", Status: models.StatementStatusQueued},
	}
	handler := NewBillingHandler(mockSvc)

	payload, _ := json.Marshal(dto.StatementRequest{Format: "csv"})
	c, w := newBillingContext(http.MethodPost, "/billing/statements", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "client-1", Role: models.RoleClient})

	handler.RequestStatement(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, mockSvc.requestCalled)
}

func TestBillingHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp("", "statement*.csv")
	require.NoError(t, err)
	defer os.Remove(file.Name())
	_, _ = file.WriteString("Period Start,Period End\n")
	_, _ = file.Seek(0, 0)

	mockSvc := &billingServiceMock{
		download: &service.StatementDownload{
			File:      file,
			Filename:  "statement.csv",
			Format:    models.StatementFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	handler := NewBillingHandler(mockSvc)

	c, w := newBillingContext(http.MethodGet, "/billing/statements/download/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "statement.csv")
}
