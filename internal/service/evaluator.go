package service

import (
	"bytes"
	"context"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/crypto"
	"github.com/robcowart/galleryauth/internal/database"
	"github.com/robcowart/galleryauth/internal/database/models"
	"go.uber.org/zap"
)

// SessionResolver turns a session token into a session
type SessionResolver interface {
	Resolve(token string) (*auth.Session, error)
}

// RequestContext is what a request presents for authentication
type RequestContext struct {
	SessionToken string
	// ClientCertDER is the leaf certificate from the TLS handshake, if any.
	ClientCertDER []byte
}

// State is how far evaluation got in identifying the requester. The
// principal set is resolved after the last of these and is carried in
// Evaluation.Principals rather than as a state of its own.
type State string

// Evaluation states, in order
const (
	StateUnauthenticated     State = "unauthenticated"
	StateSessionIdentified   State = "session_identified"
	StateCertificateVerified State = "certificate_verified"
)

// CertOutcome is the result of checking a presented certificate
type CertOutcome string

// Certificate outcomes
const (
	CertAbsent   CertOutcome = "absent"
	CertVerified CertOutcome = "verified"
	CertRejected CertOutcome = "rejected"
)

// Evaluation is the trust state of one request. It is computed fresh for
// every request and never stored.
type Evaluation struct {
	// State is the last identification state reached. Principals is always
	// resolved when Evaluate returns, whatever the state.
	State   State
	Session *auth.Session
	User    *models.User
	Level   auth.Level

	// Certificate is the verified certificate, set when CertOutcome is
	// CertVerified. It may belong to a user other than the session's.
	Certificate *models.Certificate
	CertOutcome CertOutcome
	CertReason  string

	Principals auth.Principals
}

// Authenticated reports whether the request has a session user
func (e *Evaluation) Authenticated() bool {
	return e.User != nil
}

// TrustedCert reports whether the request proved a certificate of the session user
func (e *Evaluation) TrustedCert() bool {
	return e.Principals.TrustedCert()
}

// CertificatePresented reports whether the TLS layer supplied any certificate
func (e *Evaluation) CertificatePresented() bool {
	return e.CertOutcome != CertAbsent
}

// UserID returns the session user's ID, or "" when unauthenticated
func (e *Evaluation) UserID() string {
	if e.User == nil {
		return ""
	}
	return e.User.ID
}

// Evaluator decides who a request is and what it proved. It never writes.
type Evaluator struct {
	db       *database.Database
	ca       *CAService
	sessions SessionResolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewEvaluator creates a new evaluator
func NewEvaluator(db *database.Database, ca *CAService, sessions SessionResolver, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		db:       db,
		ca:       ca,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate resolves the session, checks any presented certificate, and
// computes the principal set. A bad certificate never fails the request;
// it only withholds trusted:cert. Errors are store failures.
func (v *Evaluator) Evaluate(ctx context.Context, req RequestContext) (*Evaluation, error) {
	ev := &Evaluation{
		State:       StateUnauthenticated,
		CertOutcome: CertAbsent,
	}

	if err := v.identifySession(ctx, req.SessionToken, ev); err != nil {
		return nil, err
	}

	if len(req.ClientCertDER) > 0 {
		cert, reason, err := v.verifyCertificate(ctx, req.ClientCertDER)
		if err != nil {
			return nil, err
		}
		if cert == nil {
			ev.CertOutcome = CertRejected
			ev.CertReason = reason
		} else {
			ev.CertOutcome = CertVerified
			ev.Certificate = cert
			if ev.User != nil && cert.UserID == ev.User.ID {
				ev.State = StateCertificateVerified
			} else if ev.User != nil {
				ev.CertReason = "certificate belongs to another account"
				v.logger.Warn("Client certificate does not belong to session user",
					zap.Int64("serial", cert.Serial),
					zap.String("owner_id", cert.UserID),
					zap.String("user_id", ev.User.ID))
			}
		}
	}

	var names []string
	if ev.User != nil {
		names = append(names, auth.AuthenticatedPrincipal(ev.User.ID))
		if ev.User.Role != "" {
			names = append(names, auth.RolePrincipal(ev.User.Role))
		}
		if ev.State == StateCertificateVerified {
			names = append(names, auth.PrincipalTrustedCert)
		}
	}
	ev.Principals = auth.NewPrincipals(names...)

	return ev, nil
}

func (v *Evaluator) identifySession(ctx context.Context, token string, ev *Evaluation) error {
	if token == "" || v.sessions == nil {
		return nil
	}

	session, err := v.sessions.Resolve(token)
	if err != nil {
		v.logger.Debug("Session token rejected", zap.Error(err))
		return nil
	}

	user, err := v.db.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			v.logger.Debug("Session refers to unknown user", zap.String("user_id", session.UserID))
			return nil
		}
		return fmt.Errorf("failed to load session user: %w", err)
	}

	level, err := auth.ParseLevel(user.CertAuth)
	if err != nil {
		return err
	}

	ev.State = StateSessionIdentified
	ev.Session = session
	ev.User = user
	ev.Level = level
	return nil
}

// verifyCertificate returns the stored certificate matching der, or a nil
// certificate and the reason it was rejected
func (v *Evaluator) verifyCertificate(ctx context.Context, der []byte) (*models.Certificate, string, error) {
	reject := func(serial int64, reason string) (*models.Certificate, string, error) {
		v.logger.Warn("Rejected client certificate",
			zap.Int64("serial", serial),
			zap.String("reason", reason))
		return nil, reason, nil
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return reject(0, "unparseable certificate")
	}
	if !leaf.SerialNumber.IsInt64() {
		return reject(0, "serial out of range")
	}
	serial := leaf.SerialNumber.Int64()

	caCert := v.ca.Certificate()
	if caCert == nil {
		return reject(serial, "no certificate authority loaded")
	}

	now := v.now()
	if err := crypto.VerifyClientCertificate(leaf, caCert, now); err != nil {
		return reject(serial, err.Error())
	}

	stored, err := v.db.GetCertificateBySerial(ctx, v.ca.Fingerprint(), serial)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return reject(serial, "serial not issued by this authority")
		}
		return nil, "", fmt.Errorf("failed to look up certificate: %w", err)
	}

	issued, err := crypto.ParseCertificatePEM([]byte(stored.CertificatePEM))
	if err != nil || !bytes.Equal(issued.Raw, der) {
		return reject(serial, "certificate does not match issued record")
	}
	if stored.Revoked {
		return reject(serial, "certificate revoked")
	}
	if !stored.IsValidAt(now) {
		return reject(serial, "certificate outside validity window")
	}

	return stored, "", nil
}

// Authorize decides whether an evaluated request may use a resource that
// declares the given tier. Disabled resources are public and allowed needs a
// session. Sensitive resources need trusted:cert when the user's own level
// demands a certificate for them. Required resources always need
// trusted:cert. Refusing non-certificate logins under LevelRequired happens
// at login, not here.
func Authorize(ev *Evaluation, tier auth.Level) error {
	if tier == auth.LevelDisabled {
		return nil
	}
	if !ev.Authenticated() {
		return ErrUnauthenticated
	}

	var needsCert bool
	switch tier {
	case auth.LevelAllowed:
	case auth.LevelSensitiveRequired:
		needsCert = ev.Level.RequiresCertificate()
	case auth.LevelRequired:
		needsCert = true
	default:
		return fmt.Errorf("unknown resource tier: %q", tier)
	}

	if needsCert && !ev.TrustedCert() {
		return ErrCertificateTier
	}
	return nil
}
