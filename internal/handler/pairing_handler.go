package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/middleware"
	"github.com/careline/careline-api/internal/model"
	"github.com/careline/careline-api/internal/service"
)

// PairingHandler handles pairing credential endpoints
type PairingHandler struct {
	pairingService *service.PairingService
}

func NewPairingHandler(pairingService *service.PairingService) *PairingHandler {
	return &PairingHandler{pairingService: pairingService}
}

// Issue godoc
// @Summary Issue a short-lived pairing code for a relative's device
// @Tags Pairing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.IssuePairingRequest true "Issue pairing request"
// @Success 201 {object} model.IssuePairingResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Router /pairing/issue [post]
func (h *PairingHandler) Issue(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil || claims.IsDevice() {
		respondError(c, apperr.Forbidden("pairing codes are issued by family members"))
		return
	}

	var req model.IssuePairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation(err.Error()))
		return
	}

	resp, err := h.pairingService.Issue(c.Request.Context(), req.HouseholdID, req.RelativeID, claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Claim godoc
// @Summary Claim a pairing code from a relative's device
// @Tags Pairing
// @Accept json
// @Produce json
// @Param body body model.ClaimPairingRequest true "Claim pairing request"
// @Success 200 {object} model.ClaimPairingResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /pairing/claim [post]
func (h *PairingHandler) Claim(c *gin.Context) {
	var req model.ClaimPairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation(err.Error()))
		return
	}

	resp, err := h.pairingService.Claim(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RegisterPushTokens godoc
// @Summary Refresh the push tokens of an already-paired device
// @Tags Pairing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.RegisterPushTokenRequest true "Push token registration"
// @Success 204 "No Content"
// @Failure 400 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Router /devices/push-tokens [put]
func (h *PairingHandler) RegisterPushTokens(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		respondError(c, apperr.Forbidden("authentication required"))
		return
	}

	var req model.RegisterPushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation(err.Error()))
		return
	}

	if err := h.pairingService.RegisterPushTokens(c.Request.Context(), claims, req); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
