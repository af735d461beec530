package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/database"
	"github.com/robcowart/galleryauth/internal/database/models"
)

// CredentialKind names a way of logging in
type CredentialKind string

// Credential kinds counted by the lockout guard
const (
	CredentialCertificate CredentialKind = "certificate"
	CredentialOpenID      CredentialKind = "openid"
	CredentialPersona     CredentialKind = "persona"
)

// Credential identifies one login path of a user. Value is the certificate
// row ID, the OpenID URL, or the Persona email.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// CertificateCredential refers to an issued certificate
func CertificateCredential(cert *models.Certificate) Credential {
	return Credential{Kind: CredentialCertificate, Value: cert.ID}
}

// OpenIDCredential refers to an OpenID identity URL
func OpenIDCredential(url string) Credential {
	return Credential{Kind: CredentialOpenID, Value: url}
}

// PersonaCredential refers to a Persona email address
func PersonaCredential(email string) Credential {
	return Credential{Kind: CredentialPersona, Value: email}
}

// LockoutGuard rejects removals that would leave an account without a way
// to log in, or without a certificate while its policy demands one.
type LockoutGuard struct {
	authority Authority
	now       func() time.Time
}

// NewLockoutGuard creates a guard using the wall clock. Only certificates
// of the authority's current CA count as login paths.
func NewLockoutGuard(authority Authority) *LockoutGuard {
	return &LockoutGuard{authority: authority, now: time.Now}
}

// CheckRemoval evaluates removing the given credentials as one batch. db
// must be the transaction that will perform the removal, so the check and
// the write commit together.
func (g *LockoutGuard) CheckRemoval(ctx context.Context, db *database.Database, userID string, removing ...Credential) error {
	user, err := db.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	level, err := auth.ParseLevel(user.CertAuth)
	if err != nil {
		return err
	}

	remaining, err := loginPaths(ctx, db, userID, g.authority.Fingerprint(), g.now())
	if err != nil {
		return err
	}
	for _, c := range removing {
		delete(remaining, c)
	}

	if len(remaining) == 0 {
		return fmt.Errorf("%w: you must keep at least one certificate, OpenID identity URL, or Persona email address", ErrLockoutViolation)
	}

	if level.RequiresCertificate() {
		certs := 0
		for c := range remaining {
			if c.Kind == CredentialCertificate {
				certs++
			}
		}
		if certs == 0 {
			return fmt.Errorf("%w: your authentication setting %q needs a valid certificate; change it before removing your last one",
				ErrLockoutViolation, level)
		}
	}

	return nil
}

// loginPaths collects the valid certificates and identities of a user
func loginPaths(ctx context.Context, db *database.Database, userID, fingerprint string, now time.Time) (map[Credential]struct{}, error) {
	paths := make(map[Credential]struct{})

	certs, err := validCertificates(ctx, db, userID, fingerprint, now)
	if err != nil {
		return nil, err
	}
	for _, c := range certs {
		paths[CertificateCredential(c)] = struct{}{}
	}

	urls, err := db.ListIdentityURLs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list OpenID identities: %w", err)
	}
	for _, u := range urls {
		paths[OpenIDCredential(u.URL)] = struct{}{}
	}

	emails, err := db.ListIdentityEmails(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list Persona identities: %w", err)
	}
	for _, e := range emails {
		paths[PersonaCredential(e.Email)] = struct{}{}
	}

	return paths, nil
}
