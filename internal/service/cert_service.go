package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robcowart/galleryauth/internal/config"
	"github.com/robcowart/galleryauth/internal/crypto"
	"github.com/robcowart/galleryauth/internal/database"
	"github.com/robcowart/galleryauth/internal/database/models"
)

// Certificate status values reported by Status
const (
	StatusValid        = "valid"
	StatusExpiringSoon = "expiring_soon"
	StatusExpired      = "expired"
	StatusRevoked      = "revoked"
	StatusNotYetValid  = "not_yet_valid"
)

const expiringSoonDays = 30

// CertificateService is the read side of issued certificates plus the
// user-facing issuance flows built on CAService.
type CertificateService struct {
	db  *database.Database
	ca  *CAService
	cfg *config.Config
	now func() time.Time
}

// NewCertificateService creates a new certificate service
func NewCertificateService(db *database.Database, ca *CAService, cfg *config.Config) *CertificateService {
	return &CertificateService{
		db:  db,
		ca:  ca,
		cfg: cfg,
		now: time.Now,
	}
}

// ListForUser returns every certificate ever issued to the user, in
// issuance order
func (s *CertificateService) ListForUser(ctx context.Context, userID string) ([]*models.Certificate, error) {
	certs, err := s.db.ListCertificatesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	return certs, nil
}

// ValidCertificates returns the user's certificates that were issued by the
// current CA, are unrevoked, and are inside their validity window now
func (s *CertificateService) ValidCertificates(ctx context.Context, userID string) ([]*models.Certificate, error) {
	return validCertificates(ctx, s.db, userID, s.ca.Fingerprint(), s.now())
}

// FindBySerial looks up a certificate issued by the current CA
func (s *CertificateService) FindBySerial(ctx context.Context, serial int64) (*models.Certificate, error) {
	cert, err := s.db.GetCertificateBySerial(ctx, s.ca.Fingerprint(), serial)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("certificate %d: %w", serial, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	return cert, nil
}

// FindForUser looks up a certificate by serial and hides it unless userID owns it
func (s *CertificateService) FindForUser(ctx context.Context, userID string, serial int64) (*models.Certificate, error) {
	cert, err := s.FindBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	if cert.UserID != userID {
		return nil, fmt.Errorf("certificate %d: %w", serial, ErrNotFound)
	}
	return cert, nil
}

// Authority reports the fingerprint of the CA that currently verifies
// client certificates. Certificates from any other CA cannot log in.
type Authority interface {
	Fingerprint() string
}

func validCertificates(ctx context.Context, db *database.Database, userID, fingerprint string, now time.Time) ([]*models.Certificate, error) {
	certs, err := db.ListCertificatesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}

	valid := make([]*models.Certificate, 0, len(certs))
	for _, c := range certs {
		if c.CAFingerprint == fingerprint && c.IsValidAt(now) {
			valid = append(valid, c)
		}
	}
	return valid, nil
}

// CertificateStatus is a certificate with its computed state
type CertificateStatus struct {
	*models.Certificate
	Status       string `json:"status"`
	DaysUntilExp int    `json:"days_until_exp"`
}

// Status computes the display state of a certificate
func (s *CertificateService) Status(cert *models.Certificate) *CertificateStatus {
	status := &CertificateStatus{Certificate: cert}

	now := s.now()
	switch {
	case cert.Revoked:
		status.Status = StatusRevoked
	case now.After(cert.NotAfter):
		status.Status = StatusExpired
	case now.Before(cert.NotBefore):
		status.Status = StatusNotYetValid
		status.DaysUntilExp = int(cert.NotAfter.Sub(now).Hours() / 24)
	default:
		status.DaysUntilExp = int(cert.NotAfter.Sub(now).Hours() / 24)
		if status.DaysUntilExp <= expiringSoonDays {
			status.Status = StatusExpiringSoon
		} else {
			status.Status = StatusValid
		}
	}

	return status
}

// ListWithStatus returns the user's certificates with their computed state
func (s *CertificateService) ListWithStatus(ctx context.Context, userID string) ([]*CertificateStatus, error) {
	certs, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]*CertificateStatus, len(certs))
	for i, cert := range certs {
		result[i] = s.Status(cert)
	}
	return result, nil
}

// IssueFromCSR signs the public key of a PEM certificate request for userID.
// The request's subject is ignored; the CA chooses the subject.
func (s *CertificateService) IssueFromCSR(ctx context.Context, userID string, csrPEM []byte, validityDays int) (*models.Certificate, error) {
	csr, err := crypto.ParseCSRPEM(csrPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	return s.ca.Issue(ctx, csr.PublicKey, userID, validityDays, "")
}

// GenerateRequest asks the server to create the key pair
type GenerateRequest struct {
	UserID       string
	Passphrase   string
	ValidityDays int
	Legacy       bool // 3DES PKCS#12 for older browsers
}

// GenerateResult holds the stored certificate and the one-time PKCS#12
// bundle. The private key exists only inside Bundle.
type GenerateResult struct {
	Certificate *models.Certificate
	Bundle      []byte
}

// GenerateForUser creates a key pair, issues a certificate for it, and
// returns both as PKCS#12 with the CA certificate. The key is not stored.
func (s *CertificateService) GenerateForUser(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	key, err := crypto.GenerateRSAKey(s.cfg.CA.RSABits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	cert, err := s.ca.Issue(ctx, &key.PublicKey, req.UserID, req.ValidityDays, "")
	if err != nil {
		return nil, err
	}

	leaf, err := crypto.ParseCertificatePEM([]byte(cert.CertificatePEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse issued certificate: %w", err)
	}

	bundle, err := crypto.ExportPKCS12(leaf, key, req.Passphrase, req.Legacy, s.ca.Certificate())
	if err != nil {
		return nil, fmt.Errorf("failed to export PKCS12: %w", err)
	}

	return &GenerateResult{Certificate: cert, Bundle: bundle}, nil
}
