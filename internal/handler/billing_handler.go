package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/service"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
	"github.com/devmatch-io/devmatch-api/pkg/response"
)

type billingService interface {
	Snapshot(ctx context.Context, clientID string) (*models.UsageSnapshot, error)
	CheckQuota(ctx context.Context, clientID string, dimension models.QuotaDimension, projectID string) (*models.QuotaDecision, error)
	RequestStatement(ctx context.Context, clientID string, req dto.StatementRequest) (*models.StatementJob, error)
	GetStatement(ctx context.Context, id, clientID string, role models.UserRole) (*models.StatementJob, error)
	ResolveDownload(ctx context.Context, token string) (*service.StatementDownload, error)
}

// BillingHandler exposes usage snapshots and statement exports.
type BillingHandler struct {
	billing billingService
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(billing billingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

// Usage godoc
// @Summary Current period usage
// @Description Consumption against the active package allowances
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /billing/usage [get]
func (h *BillingHandler) Usage(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	snapshot, err := h.billing.Snapshot(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Quota godoc
// @Summary Advisory quota check
// @Description Answers whether one more unit of a dimension would be allowed
// @Tags Billing
// @Produce json
// @Param dimension query string true "projects, connects or contact_reveals"
// @Param projectId query string false "Project ID for contact_reveals"
// @Success 200 {object} response.Envelope
// @Router /billing/quota [get]
func (h *BillingHandler) Quota(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	dimension := models.QuotaDimension(c.Query("dimension"))
	switch dimension {
	case models.QuotaProjects, models.QuotaConnects, models.QuotaContactReveals:
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown quota dimension"))
		return
	}

	decision, err := h.billing.CheckQuota(c.Request.Context(), claims.UserID, dimension, c.Query("projectId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, decision, nil)
}

// RequestStatement godoc
// @Summary Queue a usage statement export
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body dto.StatementRequest true "Statement payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /billing/statements [post]
func (h *BillingHandler) RequestStatement(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.StatementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid statement payload"))
		return
	}

	job, err := h.billing.RequestStatement(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, job, nil)
}

// StatementStatus godoc
// @Summary Statement job status
// @Tags Billing
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /billing/statements/status/{id} [get]
func (h *BillingHandler) StatementStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	job, err := h.billing.GetStatement(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download a finished statement via signed token
// @Tags Billing
// @Produce octet-stream
// @Param token path string true "Download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /billing/statements/download/{token} [get]
func (h *BillingHandler) Download(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}

	result, err := h.billing.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close()

	mime := "text/csv"
	if result.Format == models.StatementFormatPDF {
		mime = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Content-Type", mime)
	http.ServeContent(c.Writer, c.Request, result.Filename, result.ExpiresAt, result.File)
}
