// Package handlers provides HTTP request handlers for the galleryauth API.
// It includes handlers for setup, login and registration, the CA certificate,
// client certificates, OpenID and Persona identities, and the account's
// certificate authentication level.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

// SetupHandler handles setup operations
type SetupHandler struct {
	userService *service.UserService
	logger      *zap.Logger
}

// NewSetupHandler creates a new setup handler
func NewSetupHandler(userService *service.UserService, logger *zap.Logger) *SetupHandler {
	return &SetupHandler{
		userService: userService,
		logger:      logger,
	}
}

// GetStatus checks if initial setup has been completed.
// @Summary Check setup status
// @Description Check if initial setup has been completed
// @Success 200 {object} map[string]bool
// @Router /api/v1/setup/status [get]
func (h *SetupHandler) GetStatus(c *gin.Context) {
	isComplete, err := h.userService.IsSetupComplete(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to check setup status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check setup status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"setup_complete": isComplete,
	})
}

// SetupRequest represents initial setup request
type SetupRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// PerformSetup handles initial setup
// @Summary Perform initial setup
// @Description Create the operator account and the session secret
// @Accept json
// @Produce json
// @Param request body SetupRequest true "Setup request"
// @Success 200 {object} map[string]string
// @Router /api/v1/setup [post]
func (h *SetupHandler) PerformSetup(c *gin.Context) {
	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.userService.PerformInitialSetup(c.Request.Context(), &service.SetupRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, h.logger, "setup failed", err)
		return
	}

	h.logger.Info("Initial setup completed", zap.String("username", req.Username))

	c.JSON(http.StatusOK, gin.H{
		"message":  "Setup completed successfully",
		"token":    result.Token,
		"username": result.User.Username,
	})
}
