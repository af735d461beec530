package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/galleryauth/internal/api/middleware"
	"github.com/robcowart/galleryauth/internal/database/models"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

// CertificateHandler handles the session user's client certificates
type CertificateHandler struct {
	certService *service.CertificateService
	caService   *service.CAService
	logger      *zap.Logger
}

// NewCertificateHandler creates a new certificate handler
func NewCertificateHandler(certService *service.CertificateService, caService *service.CAService, logger *zap.Logger) *CertificateHandler {
	return &CertificateHandler{
		certService: certService,
		caService:   caService,
		logger:      logger,
	}
}

// ListCertificates lists the user's certificates
// @Summary List certificates
// @Description List every certificate issued to the session user
// @Produce json
// @Success 200 {array} service.CertificateStatus
// @Router /api/v1/account/certificates [get]
func (h *CertificateHandler) ListCertificates(c *gin.Context) {
	userID := middleware.GetEvaluation(c).UserID()

	certificates, err := h.certService.ListWithStatus(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list certificates", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list certificates"})
		return
	}

	c.JSON(http.StatusOK, certificates)
}

// GetCertificate gets one of the user's certificates
// @Summary Get certificate
// @Produce json
// @Param serial path int true "Certificate serial"
// @Success 200 {object} service.CertificateStatus
// @Router /api/v1/account/certificates/{serial} [get]
func (h *CertificateHandler) GetCertificate(c *gin.Context) {
	cert, ok := h.findOwned(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, h.certService.Status(cert))
}

// DownloadCertificate returns one of the user's certificates as PEM
// @Summary Download certificate
// @Produce application/x-pem-file
// @Param serial path int true "Certificate serial"
// @Success 200 {file} binary
// @Router /api/v1/account/certificates/{serial}/download [get]
func (h *CertificateHandler) DownloadCertificate(c *gin.Context) {
	cert, ok := h.findOwned(c)
	if !ok {
		return
	}

	filename := fmt.Sprintf("%s-%d.pem", sanitizeFilename(middleware.GetEvaluation(c).User.Username), cert.Serial)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/x-pem-file", []byte(cert.CertificatePEM))
}

// CreateCertificateRequest asks the CA to sign a client-generated key
type CreateCertificateRequest struct {
	CSR          string `json:"csr" binding:"required"`
	ValidityDays int    `json:"validity_days"`
}

// CreateCertificate signs a certificate signing request
// @Summary Issue certificate from CSR
// @Description Sign the public key of a PEM CSR. The subject is chosen by the CA.
// @Accept json
// @Produce json
// @Param request body CreateCertificateRequest true "Certificate request"
// @Success 201 {object} models.Certificate
// @Router /api/v1/account/certificates [post]
func (h *CertificateHandler) CreateCertificate(c *gin.Context) {
	var req CreateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.GetEvaluation(c).UserID()
	certificate, err := h.certService.IssueFromCSR(c.Request.Context(), userID, []byte(req.CSR), req.ValidityDays)
	if err != nil {
		respondError(c, h.logger, "failed to issue certificate", err)
		return
	}

	h.logger.Info("Certificate created", zap.String("user_id", userID), zap.Int64("serial", certificate.Serial))

	c.JSON(http.StatusCreated, certificate)
}

// GenerateRequest asks the server to generate the key pair
type GenerateRequest struct {
	Passphrase   string `json:"passphrase" binding:"required"`
	ValidityDays int    `json:"validity_days"`
	Legacy       bool   `json:"legacy"` // 3DES encryption for older browsers
}

// GenerateCertificate creates a key pair and certificate and returns both
// as PKCS#12. The key is not kept on the server.
// @Summary Generate certificate
// @Accept json
// @Produce application/x-pkcs12
// @Param request body GenerateRequest true "Generate request"
// @Success 200 {file} binary
// @Router /api/v1/account/certificates/generate [post]
func (h *CertificateHandler) GenerateCertificate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev := middleware.GetEvaluation(c)
	result, err := h.certService.GenerateForUser(c.Request.Context(), &service.GenerateRequest{
		UserID:       ev.UserID(),
		Passphrase:   req.Passphrase,
		ValidityDays: req.ValidityDays,
		Legacy:       req.Legacy,
	})
	if err != nil {
		respondError(c, h.logger, "failed to generate certificate", err)
		return
	}

	h.logger.Info("Certificate generated",
		zap.String("user_id", ev.UserID()),
		zap.Int64("serial", result.Certificate.Serial))

	filename := fmt.Sprintf("%s-%d.p12", sanitizeFilename(ev.User.Username), result.Certificate.Serial)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("X-Certificate-Serial", strconv.FormatInt(result.Certificate.Serial, 10))
	c.Data(http.StatusOK, "application/x-pkcs12", result.Bundle)
}

// RevokeCertificate revokes one of the user's certificates
// @Summary Revoke certificate
// @Description Revoke a certificate. Refused when it would lock the account out.
// @Param serial path int true "Certificate serial"
// @Success 200 {object} map[string]string
// @Router /api/v1/account/certificates/{serial}/revoke [put]
func (h *CertificateHandler) RevokeCertificate(c *gin.Context) {
	serial, ok := parseSerial(c)
	if !ok {
		return
	}

	userID := middleware.GetEvaluation(c).UserID()
	if err := h.caService.RevokeForUser(c.Request.Context(), userID, serial); err != nil {
		respondError(c, h.logger, "failed to revoke certificate", err)
		return
	}

	h.logger.Info("Certificate revoked", zap.String("user_id", userID), zap.Int64("serial", serial))

	c.JSON(http.StatusOK, gin.H{"message": "certificate revoked"})
}

func (h *CertificateHandler) findOwned(c *gin.Context) (*models.Certificate, bool) {
	serial, ok := parseSerial(c)
	if !ok {
		return nil, false
	}

	cert, err := h.certService.FindForUser(c.Request.Context(), middleware.GetEvaluation(c).UserID(), serial)
	if err != nil {
		respondError(c, h.logger, "failed to get certificate", err)
		return nil, false
	}
	return cert, true
}

func parseSerial(c *gin.Context) (int64, bool) {
	serial, err := strconv.ParseInt(c.Param("serial"), 10, 64)
	if err != nil || serial < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid certificate serial"})
		return 0, false
	}
	return serial, true
}

var invalidFilenameChars = regexp.MustCompile(`[/\\:*?"<>|]`)

// sanitizeFilename sanitizes a string to be safe for use as a filename
func sanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")
	sanitized = strings.Trim(sanitized, ". ")

	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}
	if sanitized == "" {
		sanitized = "certificate"
	}
	return sanitized
}
