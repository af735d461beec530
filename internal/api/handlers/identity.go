package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/galleryauth/internal/api/middleware"
	"github.com/robcowart/galleryauth/internal/identity"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

// IdentityHandler manages the OpenID identities and Persona addresses
// bound to the session user
type IdentityHandler struct {
	credService *service.CredentialService
	openid      identity.Verifier
	persona     identity.Verifier
	logger      *zap.Logger
}

// NewIdentityHandler creates a new identity handler. A nil verifier
// disables adding identities of that kind.
func NewIdentityHandler(credService *service.CredentialService, openid, persona identity.Verifier, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{
		credService: credService,
		openid:      openid,
		persona:     persona,
		logger:      logger,
	}
}

// AddIdentityRequest proves control of the identity to add
type AddIdentityRequest struct {
	Assertion string `json:"assertion" binding:"required"`
}

// RemoveOpenIDRequest selects identity URLs to remove
type RemoveOpenIDRequest struct {
	URLs []string `json:"urls"`
}

// RemovePersonaRequest selects email addresses to remove
type RemovePersonaRequest struct {
	Emails []string `json:"emails"`
}

// ListOpenID lists the user's OpenID identities
// @Summary List OpenID identities
// @Produce json
// @Success 200 {array} models.IdentityURL
// @Router /api/v1/account/openid [get]
func (h *IdentityHandler) ListOpenID(c *gin.Context) {
	urls, err := h.credService.ListOpenID(c.Request.Context(), middleware.GetEvaluation(c).UserID())
	if err != nil {
		respondError(c, h.logger, "failed to list OpenID identities", err)
		return
	}
	c.JSON(http.StatusOK, urls)
}

// AddOpenID verifies an OpenID assertion and binds the identity
// @Summary Add OpenID identity
// @Accept json
// @Produce json
// @Param request body AddIdentityRequest true "OpenID assertion"
// @Success 201 {object} models.IdentityURL
// @Router /api/v1/account/openid [post]
func (h *IdentityHandler) AddOpenID(c *gin.Context) {
	var req AddIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	url, err := verifyAssertion(c.Request.Context(), h.openid, req.Assertion)
	if err != nil {
		respondError(c, h.logger, "failed to verify OpenID identity", err)
		return
	}

	ident, err := h.credService.AddOpenID(c.Request.Context(), middleware.GetEvaluation(c).UserID(), url)
	if err != nil {
		respondError(c, h.logger, "failed to add OpenID identity", err)
		return
	}
	c.JSON(http.StatusCreated, ident)
}

// RemoveOpenID removes one or more OpenID identities
// @Summary Remove OpenID identities
// @Accept json
// @Param request body RemoveOpenIDRequest true "Identities to remove"
// @Success 200 {object} map[string]string
// @Router /api/v1/account/openid/remove [post]
func (h *IdentityHandler) RemoveOpenID(c *gin.Context) {
	var req RemoveOpenIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev := middleware.GetEvaluation(c)
	if err := h.credService.RemoveOpenID(c.Request.Context(), ev.UserID(), ev.Session, req.URLs...); err != nil {
		respondError(c, h.logger, "failed to remove OpenID identities", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OpenID identities removed"})
}

// ListPersona lists the user's Persona addresses
// @Summary List Persona addresses
// @Produce json
// @Success 200 {array} models.IdentityEmail
// @Router /api/v1/account/persona [get]
func (h *IdentityHandler) ListPersona(c *gin.Context) {
	emails, err := h.credService.ListPersona(c.Request.Context(), middleware.GetEvaluation(c).UserID())
	if err != nil {
		respondError(c, h.logger, "failed to list Persona addresses", err)
		return
	}
	c.JSON(http.StatusOK, emails)
}

// AddPersona verifies a Persona assertion and binds the address
// @Summary Add Persona address
// @Accept json
// @Produce json
// @Param request body AddIdentityRequest true "Persona assertion"
// @Success 201 {object} models.IdentityEmail
// @Router /api/v1/account/persona [post]
func (h *IdentityHandler) AddPersona(c *gin.Context) {
	var req AddIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email, err := verifyAssertion(c.Request.Context(), h.persona, req.Assertion)
	if err != nil {
		respondError(c, h.logger, "failed to verify Persona address", err)
		return
	}

	ident, err := h.credService.AddPersona(c.Request.Context(), middleware.GetEvaluation(c).UserID(), email)
	if err != nil {
		respondError(c, h.logger, "failed to add Persona address", err)
		return
	}
	c.JSON(http.StatusCreated, ident)
}

// RemovePersona removes one or more Persona addresses
// @Summary Remove Persona addresses
// @Accept json
// @Param request body RemovePersonaRequest true "Addresses to remove"
// @Success 200 {object} map[string]string
// @Router /api/v1/account/persona/remove [post]
func (h *IdentityHandler) RemovePersona(c *gin.Context) {
	var req RemovePersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev := middleware.GetEvaluation(c)
	if err := h.credService.RemovePersona(c.Request.Context(), ev.UserID(), ev.Session, req.Emails...); err != nil {
		respondError(c, h.logger, "failed to remove Persona addresses", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Persona addresses removed"})
}

func verifyAssertion(ctx context.Context, v identity.Verifier, assertion string) (string, error) {
	if v == nil {
		return "", identity.ErrNotConfigured
	}
	value, err := v.Verify(ctx, assertion)
	if err != nil {
		return "", fmt.Errorf("%w: %w", service.ErrInvalidRequest, err)
	}
	return value, nil
}
