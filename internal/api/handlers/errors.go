package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/galleryauth/internal/identity"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

// statusFor maps service errors to HTTP status codes. Unknown errors are
// internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrUnregisteredIdentity):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateCredential),
		errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrSetupComplete):
		return http.StatusConflict
	case errors.Is(err, service.ErrLockoutViolation),
		errors.Is(err, service.ErrNoCertificateAvailable),
		errors.Is(err, service.ErrUnverifiedCertificateChannel),
		errors.Is(err, service.ErrActiveSessionCredential):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidLogin),
		errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrCertificateLogin),
		errors.Is(err, service.ErrCertificateTier):
		return http.StatusForbidden
	case errors.Is(err, identity.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error. Internal errors are logged and
// replaced with msg so store details do not leak.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	logger.Debug(msg, zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}
