package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devmatch-io/devmatch-api/internal/service"
	appErrors "github.com/devmatch-io/devmatch-api/pkg/errors"
	"github.com/devmatch-io/devmatch-api/pkg/response"
)

// CandidateHandler exposes a developer's offers and their responses.
type CandidateHandler struct {
	assignments *service.AssignmentService
	developers  *service.DeveloperService
}

// NewCandidateHandler constructs a CandidateHandler.
func NewCandidateHandler(assignments *service.AssignmentService, developers *service.DeveloperService) *CandidateHandler {
	return &CandidateHandler{assignments: assignments, developers: developers}
}

// developerID resolves the caller's developer profile id from their user id.
func (h *CandidateHandler) developerID(c *gin.Context) (string, error) {
	claims := claimsFromContext(c)
	if claims == nil {
		return "", appErrors.ErrUnauthorized
	}
	profile, err := h.developers.GetByUser(c.Request.Context(), claims.UserID)
	if err != nil {
		return "", err
	}
	return profile.ID, nil
}

// Offers godoc
// @Summary List own offers
// @Description Offers and invites for the authenticated developer, expired deadlines resolved
// @Tags Candidates
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /candidates/offers [get]
func (h *CandidateHandler) Offers(c *gin.Context) {
	developerID, err := h.developerID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	offers, err := h.assignments.ListOffers(c.Request.Context(), developerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, offers, nil)
}

// Accept godoc
// @Summary Accept an offer
// @Tags Candidates
// @Produce json
// @Param id path string true "Candidate ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /candidates/{id}/accept [post]
func (h *CandidateHandler) Accept(c *gin.Context) {
	developerID, err := h.developerID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	candidate, err := h.assignments.Accept(c.Request.Context(), c.Param("id"), developerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, candidate, nil)
}

// Reject godoc
// @Summary Reject an offer
// @Tags Candidates
// @Produce json
// @Param id path string true "Candidate ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /candidates/{id}/reject [post]
func (h *CandidateHandler) Reject(c *gin.Context) {
	developerID, err := h.developerID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	candidate, err := h.assignments.Reject(c.Request.Context(), c.Param("id"), developerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, candidate, nil)
}

// SetAvailability godoc
// @Summary Toggle own availability
// @Tags Candidates
// @Accept json
// @Produce json
// @Success 204 {object} response.Envelope
// @Router /candidates/availability [put]
func (h *CandidateHandler) SetAvailability(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Available *bool `json:"available" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "availability flag required"))
		return
	}

	if err := h.developers.SetAvailability(c.Request.Context(), claims.UserID, *payload.Available); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
