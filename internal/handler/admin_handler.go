package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/service"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
	"github.com/devmatch-io/devmatch-api/pkg/response"
)

// AdminHandler exposes the manual override endpoints.
type AdminHandler struct {
	projects   *service.ProjectService
	developers *service.DeveloperService
	reveals    *service.RevealService
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(projects *service.ProjectService, developers *service.DeveloperService, reveals *service.RevealService) *AdminHandler {
	return &AdminHandler{projects: projects, developers: developers, reveals: reveals}
}

// AssignDeveloper godoc
// @Summary Assign a developer to a project directly
// @Description Writes a single-candidate batch, bypassing rotation and quota
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/projects/{id}/assign [post]
func (h *AdminHandler) AssignDeveloper(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		DeveloperID string `json:"developer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "developer_id required"))
		return
	}

	batch, err := h.projects.AssignDeveloper(c.Request.Context(), claims.UserID, c.Param("id"), payload.DeveloperID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, batch)
}

// SetProjectStatus godoc
// @Summary Pause or reopen a project
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param payload body dto.UpdateProjectStatusRequest true "New status"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/projects/{id}/status [put]
func (h *AdminHandler) SetProjectStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdateProjectStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	if err := h.projects.SetStatus(c.Request.Context(), claims.UserID, c.Param("id"), req.Status); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// GrantContact godoc
// @Summary Create an explicit contact grant
// @Description Grants a client access to a developer's contact channels
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body dto.GrantContactRequest true "Grant payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/contacts/grants [post]
func (h *AdminHandler) GrantContact(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.GrantContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grant payload"))
		return
	}

	grant, err := h.reveals.Grant(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, grant)
}

// ApproveDeveloper godoc
// @Summary Approve or suspend a developer profile
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Developer ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/developers/{id}/approve [post]
func (h *AdminHandler) ApproveDeveloper(c *gin.Context) {
	var payload struct {
		Approved *bool `json:"approved" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "approved flag required"))
		return
	}

	if err := h.developers.Approve(c.Request.Context(), c.Param("id"), *payload.Approved); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
