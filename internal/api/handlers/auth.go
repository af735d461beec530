package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/galleryauth/internal/api/middleware"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

// AuthHandler handles login, registration, and the current user
type AuthHandler struct {
	userService *service.UserService
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(userService *service.UserService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		logger:      logger,
	}
}

// LoginRequest represents a password login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AssertionRequest carries an OpenID or Persona assertion
type AssertionRequest struct {
	Assertion string `json:"assertion" binding:"required"`
}

// RegisterRequest creates an account from a verified identity
type RegisterRequest struct {
	Username  string `json:"username" binding:"required"`
	Method    string `json:"method" binding:"required,oneof=openid persona"`
	Assertion string `json:"assertion" binding:"required"`
}

// Login authenticates an operator account by password
// @Summary Password login
// @Description Authenticate an operator and return a session token
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} map[string]string
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.userService.LoginPassword(c.Request.Context(), req.Username, req.Password, middleware.GetEvaluation(c))
	h.finishLogin(c, "password", result, err)
}

// LoginOpenID logs in with a verified OpenID identity
// @Summary OpenID login
// @Accept json
// @Produce json
// @Param request body AssertionRequest true "OpenID assertion"
// @Success 200 {object} map[string]string
// @Router /api/v1/auth/login/openid [post]
func (h *AuthHandler) LoginOpenID(c *gin.Context) {
	var req AssertionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.userService.LoginOpenID(c.Request.Context(), req.Assertion, middleware.GetEvaluation(c))
	h.finishLogin(c, "openid", result, err)
}

// LoginPersona logs in with a verified Persona email address
// @Summary Persona login
// @Accept json
// @Produce json
// @Param request body AssertionRequest true "Persona assertion"
// @Success 200 {object} map[string]string
// @Router /api/v1/auth/login/persona [post]
func (h *AuthHandler) LoginPersona(c *gin.Context) {
	var req AssertionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.userService.LoginPersona(c.Request.Context(), req.Assertion, middleware.GetEvaluation(c))
	h.finishLogin(c, "persona", result, err)
}

// LoginCertificate logs in the owner of the client certificate presented
// on this connection
// @Summary Certificate login
// @Produce json
// @Success 200 {object} map[string]string
// @Router /api/v1/auth/login/certificate [post]
func (h *AuthHandler) LoginCertificate(c *gin.Context) {
	result, err := h.userService.LoginCertificate(c.Request.Context(), middleware.GetEvaluation(c))
	h.finishLogin(c, "certificate", result, err)
}

// Register creates an account bound to a verified identity
// @Summary Register
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration"
// @Success 201 {object} map[string]string
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.userService.Register(c.Request.Context(), &service.RegisterRequest{
		Username:  req.Username,
		Method:    req.Method,
		Assertion: req.Assertion,
	})
	if err != nil {
		respondError(c, h.logger, "registration failed", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token": result.Token,
		"user":  result.User,
	})
}

func (h *AuthHandler) finishLogin(c *gin.Context, method string, result *service.LoginResult, err error) {
	if err != nil {
		h.logger.Warn("Login failed", zap.String("method", method), zap.Error(err))
		respondError(c, h.logger, "login failed", err)
		return
	}

	h.logger.Info("User logged in",
		zap.String("username", result.User.Username),
		zap.String("method", method))

	c.JSON(http.StatusOK, gin.H{
		"token": result.Token,
		"user":  result.User,
	})
}

// GetCurrentUser returns the session user and what this request proved
// @Summary Get current user
// @Success 200 {object} map[string]any
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	ev := middleware.GetEvaluation(c)

	resp := gin.H{
		"user_id":      ev.UserID(),
		"username":     ev.User.Username,
		"role":         ev.User.Role,
		"cert_auth":    ev.Level,
		"principals":   ev.Principals.List(),
		"cert_outcome": ev.CertOutcome,
	}
	if ev.Session != nil {
		resp["login_method"] = ev.Session.Method
	}
	if ev.Certificate != nil {
		resp["certificate_serial"] = ev.Certificate.Serial
	}

	c.JSON(http.StatusOK, resp)
}
