package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

// CAHandler serves the deployment CA certificate
type CAHandler struct {
	caService *service.CAService
	logger    *zap.Logger
}

// NewCAHandler creates a new CA handler
func NewCAHandler(caService *service.CAService, logger *zap.Logger) *CAHandler {
	return &CAHandler{
		caService: caService,
		logger:    logger,
	}
}

// DownloadCertificate returns the CA certificate so clients can trust it
// @Summary Download CA certificate
// @Produce application/x-x509-ca-cert
// @Success 200 {file} binary
// @Router /api/v1/ca/certificate [get]
func (h *CAHandler) DownloadCertificate(c *gin.Context) {
	certPEM := h.caService.CertificatePEM()
	if certPEM == "" {
		h.logger.Error("CA certificate requested before bootstrap")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "certificate authority not available"})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+service.CACertFile)
	c.Header("X-CA-Fingerprint", h.caService.Fingerprint())
	c.Data(http.StatusOK, "application/x-x509-ca-cert", []byte(certPEM))
}
