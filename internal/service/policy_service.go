package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/database"
	"go.uber.org/zap"
)

// PolicyService reads and changes the certificate authentication level of
// an account
type PolicyService struct {
	db        *database.Database
	authority Authority
	logger    *zap.Logger
	now       func() time.Time
}

// NewPolicyService creates a new policy service
func NewPolicyService(db *database.Database, authority Authority, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		db:        db,
		authority: authority,
		logger:    logger,
		now:       time.Now,
	}
}

// PolicyChange is a requested level together with what the current
// request proved about client certificates
type PolicyChange struct {
	Level auth.Level
	// CertificatePresented is set when the request carried a client
	// certificate, whether or not it verified.
	CertificatePresented bool
	// TrustedCert is set when the request holds the trusted:cert principal.
	TrustedCert bool
}

// Get returns the user's level. Accounts start at LevelDisabled.
func (s *PolicyService) Get(ctx context.Context, userID string) (auth.Level, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return auth.ParseLevel(user.CertAuth)
}

// Set changes the user's level. Moving to a level that requires a
// certificate needs a valid certificate on the account and a certificate
// proven on the current request, checked in that order.
func (s *PolicyService) Set(ctx context.Context, userID string, change PolicyChange) error {
	level, err := auth.ParseLevel(string(change.Level))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var previous auth.Level
	err = s.db.WithUserLock(ctx, userID, func(tx *database.Database) error {
		user, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		previous = auth.Level(user.CertAuth)

		if level.RequiresCertificate() {
			valid, err := validCertificates(ctx, tx, userID, s.authority.Fingerprint(), s.now())
			if err != nil {
				return err
			}
			if len(valid) == 0 {
				return fmt.Errorf("%w: you cannot make a selection that requires a client certificate "+
					"while you have no valid certificates registered against your account", ErrNoCertificateAvailable)
			}

			if !change.TrustedCert {
				if change.CertificatePresented {
					return fmt.Errorf("%w: the certificate your browser sent could not be verified for this account; "+
						"install a valid certificate and reload this page", ErrUnverifiedCertificateChannel)
				}
				return fmt.Errorf("%w: to prevent locking yourself out, load this page while a valid certificate "+
					"is installed in your browser and being sent to the site", ErrUnverifiedCertificateChannel)
			}
		}

		return tx.SetUserCertAuth(ctx, userID, string(level))
	})
	if err != nil {
		return userLockError(userID, err)
	}

	s.logger.Info("Updated authentication options",
		zap.String("user_id", userID),
		zap.String("from", string(previous)),
		zap.String("to", string(level)))
	return nil
}

// AvailableLevels lists the levels to offer on the authentication page.
// Certificate-requiring levels are hidden unless already selected or the
// request holds trusted:cert.
func AvailableLevels(current auth.Level, principals auth.Principals) []auth.Level {
	if current.RequiresCertificate() || principals.TrustedCert() {
		return append([]auth.Level(nil), auth.Levels...)
	}
	return []auth.Level{auth.LevelDisabled, auth.LevelAllowed}
}
