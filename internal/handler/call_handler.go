package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/middleware"
	"github.com/careline/careline-api/internal/model"
	"github.com/careline/careline-api/internal/service"
	"github.com/careline/careline-api/pkg/auth"
)

// CallHandler handles call session endpoints
type CallHandler struct {
	callService *service.CallService
}

func NewCallHandler(callService *service.CallService) *CallHandler {
	return &CallHandler{callService: callService}
}

// StartCall godoc
// @Summary Start a call to a relative's paired device
// @Tags Calls
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.StartCallRequest true "Start call request"
// @Success 201 {object} model.CallSession
// @Failure 400 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Failure 502 {object} model.ErrorResponse
// @Router /calls [post]
func (h *CallHandler) StartCall(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		respondError(c, apperr.Forbidden("authentication required"))
		return
	}

	var req model.StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation(err.Error()))
		return
	}

	session, err := h.callService.StartCall(c.Request.Context(), claims, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// MarkRinging godoc
// @Summary Acknowledge the incoming call on the device
// @Tags Calls
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} model.CallSession
// @Failure 404 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /calls/{id}/ringing [post]
func (h *CallHandler) MarkRinging(c *gin.Context) {
	claims, sessionID, ok := h.sessionContext(c)
	if !ok {
		return
	}

	session, err := h.callService.MarkRinging(c.Request.Context(), claims, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// AttachConversation godoc
// @Summary Bind the provider conversation id reported by the device
// @Tags Calls
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body model.AttachConversationRequest true "Conversation binding"
// @Success 200 {object} model.CallSession
// @Failure 400 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /calls/{id}/conversation [post]
func (h *CallHandler) AttachConversation(c *gin.Context) {
	claims, sessionID, ok := h.sessionContext(c)
	if !ok {
		return
	}

	var req model.AttachConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation(err.Error()))
		return
	}

	session, err := h.callService.AttachConversation(c.Request.Context(), claims, sessionID, req.ProviderConversationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// MarkActive godoc
// @Summary Record the established conversation
// @Tags Calls
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} model.CallSession
// @Failure 404 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /calls/{id}/active [post]
func (h *CallHandler) MarkActive(c *gin.Context) {
	claims, sessionID, ok := h.sessionContext(c)
	if !ok {
		return
	}

	session, err := h.callService.MarkActive(c.Request.Context(), claims, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// ReportOutcome godoc
// @Summary Finalize a call session with its outcome
// @Tags Calls
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body model.ReportOutcomeRequest true "Call outcome"
// @Success 200 {object} model.CallSession
// @Failure 400 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /calls/{id}/outcome [post]
func (h *CallHandler) ReportOutcome(c *gin.Context) {
	claims, sessionID, ok := h.sessionContext(c)
	if !ok {
		return
	}

	var req model.ReportOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation(err.Error()))
		return
	}

	session, err := h.callService.ReportOutcome(c.Request.Context(), claims, sessionID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// AttachSummary godoc
// @Summary Attach a late-arriving post-call summary
// @Tags Calls
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body object true "Opaque summary payload"
// @Success 204 "No Content"
// @Failure 400 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /calls/{id}/summary [put]
func (h *CallHandler) AttachSummary(c *gin.Context) {
	claims, sessionID, ok := h.sessionContext(c)
	if !ok {
		return
	}

	summary, err := c.GetRawData()
	if err != nil || len(summary) == 0 {
		respondError(c, apperr.Validation("summary payload is required"))
		return
	}

	if err := h.callService.AttachConversationSummary(c.Request.Context(), claims, sessionID, summary); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListSessions godoc
// @Summary List recent call sessions for a household
// @Tags Calls
// @Produce json
// @Security BearerAuth
// @Param household_id path string true "Household ID"
// @Param limit query int false "Max sessions to return" default(50)
// @Success 200 {array} model.CallSession
// @Failure 403 {object} model.ErrorResponse
// @Router /households/{household_id}/calls [get]
func (h *CallHandler) ListSessions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		respondError(c, apperr.Forbidden("authentication required"))
		return
	}

	householdID, err := uuid.Parse(c.Param("household_id"))
	if err != nil {
		respondError(c, apperr.Validation("invalid household id"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	sessions, err := h.callService.ListSessions(c.Request.Context(), claims, householdID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// sessionContext extracts the auth claims and the session id path param
func (h *CallHandler) sessionContext(c *gin.Context) (claims *auth.Claims, sessionID uuid.UUID, ok bool) {
	claims = middleware.GetClaims(c)
	if claims == nil {
		respondError(c, apperr.Forbidden("authentication required"))
		return nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("invalid session id"))
		return nil, uuid.Nil, false
	}

	return claims, sessionID, true
}
