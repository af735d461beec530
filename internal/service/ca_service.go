// Package service implements the authentication core of galleryauth: the
// deployment certificate authority, the per-user certificate store and
// identity registry, the certificate authentication policy, the per-request
// evaluator, and the guard that keeps every account reachable.
package service

import (
	"context"
	stdcrypto "crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robcowart/galleryauth/internal/config"
	"github.com/robcowart/galleryauth/internal/crypto"
	"github.com/robcowart/galleryauth/internal/database"
	"github.com/robcowart/galleryauth/internal/database/models"
	"go.uber.org/zap"
)

// CA file names inside the configured directory
const (
	CACertFile = "ca.pem"
	CAKeyFile  = "ca.key"
)

// CAService owns the deployment CA. The private key is loaded once by
// Bootstrap and never leaves this type.
type CAService struct {
	db     *database.Database
	cfg    *config.Config
	logger *zap.Logger
	guard  *LockoutGuard
	now    func() time.Time
	// writeFile creates a CA file that must not already exist
	writeFile func(path string, data []byte, perm os.FileMode) error

	mu          sync.RWMutex
	cert        *x509.Certificate
	key         stdcrypto.Signer
	certPEM     string
	fingerprint string
	siteTitle   string
}

// NewCAService creates a new CA service. Bootstrap must run before Issue.
func NewCAService(db *database.Database, cfg *config.Config, logger *zap.Logger) *CAService {
	s := &CAService{
		db:     db,
		cfg:    cfg,
		logger:    logger,
		now:       time.Now,
		writeFile: writeNewFile,
	}
	s.guard = NewLockoutGuard(s)
	return s
}

// Guard returns the lockout guard bound to this CA. Services that remove
// credentials must share it.
func (s *CAService) Guard() *LockoutGuard {
	return s.guard
}

// Bootstrap loads the CA from dir, or generates and persists a new one when
// neither file exists. Repeated calls against the same directory always
// load. Any unusable state on disk is ErrCorruptCA.
func (s *CAService) Bootstrap(dir, siteTitle string) (*x509.Certificate, error) {
	certPath := filepath.Join(dir, CACertFile)
	keyPath := filepath.Join(dir, CAKeyFile)

	certExists, err := fileExists(certPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCA, err)
	}
	keyExists, err := fileExists(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCA, err)
	}

	var ca *crypto.CAResult
	switch {
	case certExists && keyExists:
		ca, err = s.loadCA(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Loaded certificate authority",
			zap.String("dir", dir),
			zap.String("subject", ca.Certificate.Subject.String()),
			zap.Time("not_after", ca.Certificate.NotAfter))

	case certExists != keyExists:
		// One half missing: regenerating would orphan every issued certificate.
		return nil, fmt.Errorf("%w: only one of %s and %s exists in %s", ErrCorruptCA, CACertFile, CAKeyFile, dir)

	default:
		ca, err = s.generateCA(dir, certPath, keyPath, siteTitle)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Generated certificate authority",
			zap.String("dir", dir),
			zap.String("subject", ca.Certificate.Subject.String()),
			zap.String("digest", s.cfg.CA.Digest),
			zap.Time("not_after", ca.Certificate.NotAfter))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cert = ca.Certificate
	s.key = ca.PrivateKey
	s.certPEM = ca.CertificatePEM
	s.fingerprint = crypto.Fingerprint(ca.Certificate)
	s.siteTitle = siteTitle

	return ca.Certificate, nil
}

func (s *CAService) loadCA(certPath, keyPath string) (*crypto.CAResult, error) {
	info, err := os.Stat(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCA, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		s.logger.Warn("CA private key is readable by other accounts",
			zap.String("path", keyPath),
			zap.String("mode", info.Mode().Perm().String()))
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCA, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCA, err)
	}

	ca, err := crypto.LoadCA(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCA, err)
	}
	return ca, nil
}

func (s *CAService) generateCA(dir, certPath, keyPath, siteTitle string) (*crypto.CAResult, error) {
	ca, err := crypto.GenerateSelfSignedCA(&crypto.CARequest{
		Subject: pkix.Name{
			CommonName:   siteTitle + " Client Certificate Authority",
			Organization: []string{siteTitle},
		},
		RSABits:      s.cfg.CA.RSABits,
		ValidityDays: s.cfg.CA.ValidityDays,
		Digest:       s.cfg.CA.Digest,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate CA: %v", ErrCorruptCA, err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: failed to create CA directory: %v", ErrCorruptCA, err)
	}

	// Key first, exclusively, so a concurrent bootstrap cannot interleave.
	if err := s.writeFile(keyPath, []byte(ca.PrivateKeyPEM), 0o600); err != nil {
		return nil, fmt.Errorf("%w: failed to write CA key: %v", ErrCorruptCA, err)
	}
	if err := s.writeFile(certPath, []byte(ca.CertificatePEM), 0o644); err != nil {
		// A lone key would make every later bootstrap fail as corrupt.
		if rmErr := os.Remove(keyPath); rmErr != nil {
			s.logger.Error("Failed to remove CA key after certificate write failed",
				zap.String("path", keyPath), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("%w: failed to write CA certificate: %v", ErrCorruptCA, err)
	}

	return ca, nil
}

// Issue signs a client certificate for ownerUserID and stores it. A
// validityDays of zero selects the configured default; an empty digest
// selects the configured digest.
func (s *CAService) Issue(ctx context.Context, pub stdcrypto.PublicKey, ownerUserID string, validityDays int, digest string) (*models.Certificate, error) {
	if validityDays == 0 {
		validityDays = s.cfg.CA.LeafValidityDays
	}
	if validityDays < 0 || validityDays > s.cfg.CA.MaxLeafValidityDays {
		return nil, fmt.Errorf("%w: validity must be between 1 and %d days", ErrInvalidRequest, s.cfg.CA.MaxLeafValidityDays)
	}
	if digest == "" {
		digest = s.cfg.CA.Digest
	}
	if pub == nil {
		return nil, fmt.Errorf("%w: public key is required", ErrInvalidRequest)
	}

	s.mu.RLock()
	caCert, caKey, fingerprint, siteTitle := s.cert, s.key, s.fingerprint, s.siteTitle
	s.mu.RUnlock()
	if caCert == nil || caKey == nil {
		return nil, fmt.Errorf("%w: CA key unavailable", ErrIssuance)
	}

	var issued *models.Certificate
	err := s.db.WithUserLock(ctx, ownerUserID, func(tx *database.Database) error {
		serial, err := tx.NextSerial(ctx, fingerprint)
		if err != nil {
			return fmt.Errorf("%w: failed to assign serial: %v", ErrIssuance, err)
		}

		notBefore := s.now().UTC().Truncate(time.Second)
		leaf, err := crypto.SignClientCertificate(&crypto.LeafRequest{
			PublicKey: pub,
			Subject: pkix.Name{
				CommonName:   ownerUserID,
				Organization: []string{siteTitle},
			},
			Serial:    big.NewInt(serial),
			NotBefore: notBefore,
			NotAfter:  notBefore.AddDate(0, 0, validityDays),
			Digest:    digest,
		}, caCert, caKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIssuance, err)
		}

		cert := &models.Certificate{
			ID:                 uuid.New().String(),
			Serial:             serial,
			CAFingerprint:      fingerprint,
			UserID:             ownerUserID,
			Subject:            leaf.Certificate.Subject.String(),
			PublicKeyAlgorithm: crypto.PublicKeyAlgorithm(pub),
			Digest:             digest,
			NotBefore:          leaf.Certificate.NotBefore.UTC(),
			NotAfter:           leaf.Certificate.NotAfter.UTC(),
			CertificatePEM:     leaf.CertificatePEM,
			CreatedAt:          s.now().UTC(),
		}
		if err := tx.CreateCertificate(ctx, cert); err != nil {
			return fmt.Errorf("%w: failed to store certificate: %v", ErrIssuance, err)
		}

		issued = cert
		return nil
	})
	if err != nil {
		return nil, userLockError(ownerUserID, err)
	}

	s.logger.Info("Issued client certificate",
		zap.Int64("serial", issued.Serial),
		zap.String("user_id", ownerUserID),
		zap.Time("not_after", issued.NotAfter))

	return issued, nil
}

// Revoke marks the certificate with the given serial as revoked. Revoking
// an already revoked certificate is a no-op. The lockout guard runs on the
// owner's remaining credentials first.
func (s *CAService) Revoke(ctx context.Context, serial int64) error {
	fingerprint := s.Fingerprint()

	cert, err := s.db.GetCertificateBySerial(ctx, fingerprint, serial)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("certificate %d: %w", serial, ErrNotFound)
		}
		return fmt.Errorf("failed to get certificate: %w", err)
	}

	return s.revoke(ctx, cert.UserID, serial)
}

// RevokeForUser revokes a certificate only if userID owns it
func (s *CAService) RevokeForUser(ctx context.Context, userID string, serial int64) error {
	return s.revoke(ctx, userID, serial)
}

func (s *CAService) revoke(ctx context.Context, userID string, serial int64) error {
	fingerprint := s.Fingerprint()
	var revoked bool

	err := s.db.WithUserLock(ctx, userID, func(tx *database.Database) error {
		cert, err := tx.GetCertificateBySerial(ctx, fingerprint, serial)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("certificate %d: %w", serial, ErrNotFound)
			}
			return fmt.Errorf("failed to get certificate: %w", err)
		}
		if cert.UserID != userID {
			return fmt.Errorf("certificate %d: %w", serial, ErrNotFound)
		}
		if cert.Revoked {
			return nil
		}

		if err := s.guard.CheckRemoval(ctx, tx, userID, CertificateCredential(cert)); err != nil {
			return err
		}

		if err := tx.RevokeCertificate(ctx, cert.ID, s.now()); err != nil {
			return fmt.Errorf("failed to revoke certificate: %w", err)
		}
		revoked = true
		return nil
	})
	if err != nil {
		return userLockError(userID, err)
	}

	if revoked {
		s.logger.Info("Revoked client certificate",
			zap.Int64("serial", serial),
			zap.String("user_id", userID))
	}
	return nil
}

// Certificate returns the CA certificate
func (s *CAService) Certificate() *x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cert
}

// CertificatePEM returns the PEM encoding of the CA certificate
func (s *CAService) CertificatePEM() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.certPEM
}

// Fingerprint returns the SHA-256 fingerprint of the CA certificate
func (s *CAService) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func writeNewFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
