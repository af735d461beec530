package service

import (
	"errors"
	"fmt"
)

// Errors returned by the authentication core. Callers compare with
// errors.Is; wrapped messages carry the user-facing detail.
var (
	// ErrCorruptCA means the persisted CA files could not be used. Fatal at startup.
	ErrCorruptCA = errors.New("certificate authority is corrupt")
	// ErrIssuance means a certificate could not be signed; nothing was persisted.
	ErrIssuance = errors.New("certificate issuance failed")
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCredential is matched by *DuplicateCredentialError.
	ErrDuplicateCredential          = errors.New("credential already registered")
	ErrLockoutViolation             = errors.New("change would lock the account out")
	ErrUnverifiedCertificateChannel = errors.New("certificate not proven on this connection")
	ErrNoCertificateAvailable       = errors.New("no valid certificate available")
	ErrActiveSessionCredential      = errors.New("credential is in use by the current session")

	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidLogin     = errors.New("invalid credentials")
	ErrCertificateLogin = errors.New("certificate login refused")
	ErrSetupComplete    = errors.New("setup already complete")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrUnauthenticated  = errors.New("authentication required")
	ErrCertificateTier  = errors.New("a trusted client certificate is required")

	// ErrUnregisteredIdentity means a verified identity maps to no account yet.
	ErrUnregisteredIdentity = errors.New("identity is not registered")
)

// DuplicateCredentialError reports an identity that is already bound to an
// account. SameUser distinguishes the requester's own account from another.
type DuplicateCredentialError struct {
	Kind     CredentialKind
	Value    string
	SameUser bool
}

func (e *DuplicateCredentialError) Error() string {
	if e.Kind == CredentialPersona {
		owner := "another account"
		if e.SameUser {
			owner = "your account"
		}
		return fmt.Sprintf("The email address %q already belongs to %s", e.Value, owner)
	}
	if e.SameUser {
		return "You can already authenticate with that OpenID identity"
	}
	return "That OpenID identity is already in use by another account"
}

// Is lets errors.Is match ErrDuplicateCredential
func (e *DuplicateCredentialError) Is(target error) bool {
	return target == ErrDuplicateCredential
}
