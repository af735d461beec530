package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/galleryauth/internal/api/middleware"
	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

// PolicyHandler reads and changes the account's certificate
// authentication level
type PolicyHandler struct {
	policyService *service.PolicyService
	logger        *zap.Logger
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(policyService *service.PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		policyService: policyService,
		logger:        logger,
	}
}

// LevelOption is one selectable level
type LevelOption struct {
	Level       auth.Level `json:"level"`
	Description string     `json:"description"`
}

// SetLevelRequest selects a new level
type SetLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

// GetAuthentication returns the current level and the levels this request
// may choose
// @Summary Get authentication options
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/v1/account/authentication [get]
func (h *PolicyHandler) GetAuthentication(c *gin.Context) {
	ev := middleware.GetEvaluation(c)

	current, err := h.policyService.Get(c.Request.Context(), ev.UserID())
	if err != nil {
		respondError(c, h.logger, "failed to get authentication options", err)
		return
	}

	available := service.AvailableLevels(current, ev.Principals)
	options := make([]LevelOption, len(available))
	for i, l := range available {
		options[i] = LevelOption{Level: l, Description: l.Description()}
	}

	c.JSON(http.StatusOK, gin.H{
		"level":                 current,
		"description":           current.Description(),
		"options":               options,
		"certificate_presented": ev.CertificatePresented(),
		"trusted_cert":          ev.TrustedCert(),
	})
}

// SetAuthentication changes the level
// @Summary Set authentication options
// @Accept json
// @Produce json
// @Param request body SetLevelRequest true "New level"
// @Success 200 {object} map[string]string
// @Router /api/v1/account/authentication [post]
func (h *PolicyHandler) SetAuthentication(c *gin.Context) {
	var req SetLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev := middleware.GetEvaluation(c)
	err := h.policyService.Set(c.Request.Context(), ev.UserID(), service.PolicyChange{
		Level:                auth.Level(req.Level),
		CertificatePresented: ev.CertificatePresented(),
		TrustedCert:          ev.TrustedCert(),
	})
	if err != nil {
		respondError(c, h.logger, "failed to update authentication options", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Your authentication options have been updated",
		"level":   req.Level,
	})
}
