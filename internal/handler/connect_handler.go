package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devmatch-io/devmatch-api/internal/dto"
	"github.com/devmatch-io/devmatch-api/internal/service"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
	"github.com/devmatch-io/devmatch-api/pkg/response"
)

// ConnectHandler exposes direct developer invites.
type ConnectHandler struct {
	assignments *service.AssignmentService
}

// NewConnectHandler constructs a ConnectHandler.
func NewConnectHandler(assignments *service.AssignmentService) *ConnectHandler {
	return &ConnectHandler{assignments: assignments}
}

// Invite godoc
// @Summary Invite a developer directly
// @Description Send a direct invite, consuming one connect from the monthly allowance
// @Tags Connects
// @Accept json
// @Produce json
// @Param payload body dto.InviteRequest true "Invite payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 402 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /connects [post]
func (h *ConnectHandler) Invite(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid invite payload"))
		return
	}

	candidate, err := h.assignments.Invite(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, candidate)
}
