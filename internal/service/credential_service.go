package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/database"
	"github.com/robcowart/galleryauth/internal/database/models"
	"go.uber.org/zap"
)

// CredentialService manages the OpenID URLs and Persona emails bound to
// accounts. Every mutation holds the owner's lock, and removals pass the
// lockout guard in the same transaction.
type CredentialService struct {
	db     *database.Database
	guard  *LockoutGuard
	logger *zap.Logger
	now    func() time.Time
}

// NewCredentialService creates a new credential service
func NewCredentialService(db *database.Database, guard *LockoutGuard, logger *zap.Logger) *CredentialService {
	return &CredentialService{
		db:     db,
		guard:  guard,
		logger: logger,
		now:    time.Now,
	}
}

// NormalizeEmail canonicalizes a Persona address for storage and comparison
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ListOpenID returns the user's OpenID identity URLs
func (s *CredentialService) ListOpenID(ctx context.Context, userID string) ([]*models.IdentityURL, error) {
	urls, err := s.db.ListIdentityURLs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list OpenID identities: %w", err)
	}
	return urls, nil
}

// ListPersona returns the user's Persona email addresses
func (s *CredentialService) ListPersona(ctx context.Context, userID string) ([]*models.IdentityEmail, error) {
	emails, err := s.db.ListIdentityEmails(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list Persona identities: %w", err)
	}
	return emails, nil
}

// AddOpenID binds a verified OpenID identity URL to the user. A URL bound
// to any account, including this one, is a *DuplicateCredentialError.
func (s *CredentialService) AddOpenID(ctx context.Context, userID, url string) (*models.IdentityURL, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: OpenID identity URL is required", ErrInvalidRequest)
	}

	ident := &models.IdentityURL{
		ID:        uuid.New().String(),
		URL:       url,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}

	err := s.db.WithUserLock(ctx, userID, func(tx *database.Database) error {
		existing, err := tx.GetIdentityURL(ctx, url)
		switch {
		case err == nil:
			return &DuplicateCredentialError{Kind: CredentialOpenID, Value: url, SameUser: existing.UserID == userID}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to look up OpenID identity: %w", err)
		}

		if err := tx.CreateIdentityURL(ctx, ident); err != nil {
			if errors.Is(err, database.ErrConflict) {
				return &DuplicateCredentialError{Kind: CredentialOpenID, Value: url}
			}
			return fmt.Errorf("failed to add OpenID identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, userLockError(userID, err)
	}

	s.logger.Info("Added OpenID identity", zap.String("user_id", userID), zap.String("url", url))
	return ident, nil
}

// AddPersona binds a verified Persona email address to the user. Addresses
// compare case-insensitively.
func (s *CredentialService) AddPersona(ctx context.Context, userID, email string) (*models.IdentityEmail, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: Persona email address is required", ErrInvalidRequest)
	}

	ident := &models.IdentityEmail{
		ID:        uuid.New().String(),
		Email:     email,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}

	err := s.db.WithUserLock(ctx, userID, func(tx *database.Database) error {
		existing, err := tx.GetIdentityEmail(ctx, email)
		switch {
		case err == nil:
			return &DuplicateCredentialError{Kind: CredentialPersona, Value: email, SameUser: existing.UserID == userID}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to look up Persona identity: %w", err)
		}

		if err := tx.CreateIdentityEmail(ctx, ident); err != nil {
			if errors.Is(err, database.ErrConflict) {
				return &DuplicateCredentialError{Kind: CredentialPersona, Value: email}
			}
			return fmt.Errorf("failed to add Persona identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, userLockError(userID, err)
	}

	s.logger.Info("Added Persona identity", zap.String("user_id", userID), zap.String("email", email))
	return ident, nil
}

// RemoveOpenID unbinds one or more OpenID URLs from the user as a single
// batch. session is the requester's session; removing the URL it logged in
// with is ErrActiveSessionCredential.
func (s *CredentialService) RemoveOpenID(ctx context.Context, userID string, session *auth.Session, urls ...string) error {
	return s.remove(ctx, userID, session, CredentialOpenID, urls)
}

// RemovePersona unbinds one or more Persona emails from the user as a
// single batch, with the same rules as RemoveOpenID.
func (s *CredentialService) RemovePersona(ctx context.Context, userID string, session *auth.Session, emails ...string) error {
	normalized := make([]string, len(emails))
	for i, e := range emails {
		normalized[i] = NormalizeEmail(e)
	}
	return s.remove(ctx, userID, session, CredentialPersona, normalized)
}

func (s *CredentialService) remove(ctx context.Context, userID string, session *auth.Session, kind CredentialKind, values []string) error {
	values = dedupe(values)
	if len(values) == 0 {
		if kind == CredentialPersona {
			return fmt.Errorf("%w: you must select at least one Persona identity email address to delete", ErrInvalidRequest)
		}
		return fmt.Errorf("%w: you must select at least one OpenID identity URL to delete", ErrInvalidRequest)
	}

	removing := make([]Credential, len(values))
	for i, v := range values {
		removing[i] = Credential{Kind: kind, Value: v}
	}

	err := s.db.WithUserLock(ctx, userID, func(tx *database.Database) error {
		owned, err := ownedIdentities(ctx, tx, userID, kind)
		if err != nil {
			return err
		}
		for _, v := range values {
			if _, ok := owned[v]; !ok {
				return fmt.Errorf("%s %q: %w", kind, v, ErrNotFound)
			}
		}

		if err := s.guard.CheckRemoval(ctx, tx, userID, removing...); err != nil {
			return err
		}

		if active := sessionIdentity(session, userID, kind); active != "" {
			for _, v := range values {
				if v == active {
					return fmt.Errorf("%w: you cannot remove the %s with which you are currently logged in",
						ErrActiveSessionCredential, kindNoun(kind))
				}
			}
		}

		for _, v := range values {
			if err := deleteIdentity(ctx, tx, userID, kind, v); err != nil {
				return fmt.Errorf("failed to remove %s %q: %v", kind, v, err)
			}
		}
		return nil
	})
	if err != nil {
		return userLockError(userID, err)
	}

	s.logger.Info("Removed identities",
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
		zap.Strings("values", values))
	return nil
}

func ownedIdentities(ctx context.Context, tx *database.Database, userID string, kind CredentialKind) (map[string]struct{}, error) {
	owned := make(map[string]struct{})
	switch kind {
	case CredentialOpenID:
		urls, err := tx.ListIdentityURLs(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list OpenID identities: %w", err)
		}
		for _, u := range urls {
			owned[u.URL] = struct{}{}
		}
	case CredentialPersona:
		emails, err := tx.ListIdentityEmails(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list Persona identities: %w", err)
		}
		for _, e := range emails {
			owned[e.Email] = struct{}{}
		}
	default:
		return nil, fmt.Errorf("unsupported identity kind: %s", kind)
	}
	return owned, nil
}

func deleteIdentity(ctx context.Context, tx *database.Database, userID string, kind CredentialKind, value string) error {
	if kind == CredentialPersona {
		return tx.DeleteIdentityEmail(ctx, userID, value)
	}
	return tx.DeleteIdentityURL(ctx, userID, value)
}

// sessionIdentity returns the identity of kind the session logged in with,
// if the session belongs to userID
func sessionIdentity(session *auth.Session, userID string, kind CredentialKind) string {
	if session == nil || session.UserID != userID {
		return ""
	}
	switch kind {
	case CredentialOpenID:
		return session.OpenIDURL
	case CredentialPersona:
		return NormalizeEmail(session.PersonaAddr)
	}
	return ""
}

func kindNoun(kind CredentialKind) string {
	if kind == CredentialPersona {
		return "Persona identity email address"
	}
	return "OpenID identity URL"
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// userLockError maps the missing-user result of WithUserLock to ErrNotFound
func userLockError(userID string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return err
}
