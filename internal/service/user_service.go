package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/database"
	"github.com/robcowart/galleryauth/internal/database/models"
	"github.com/robcowart/galleryauth/internal/identity"
	"go.uber.org/zap"
)

// Account roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const sessionSecretKey = "session_secret"

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{1,24}$`)

// UserService handles setup, registration, and every login entry point
type UserService struct {
	db       *database.Database
	sessions *auth.SessionManager
	openid   identity.Verifier
	persona  identity.Verifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewUserService creates a new user service. Either verifier may be nil
// when that login method is not configured.
func NewUserService(db *database.Database, sessions *auth.SessionManager, openid, persona identity.Verifier, logger *zap.Logger) *UserService {
	return &UserService{
		db:       db,
		sessions: sessions,
		openid:   openid,
		persona:  persona,
		logger:   logger,
		now:      time.Now,
	}
}

// LoginResult is a freshly issued session
type LoginResult struct {
	User    *models.User  `json:"user"`
	Token   string        `json:"token"`
	Session *auth.Session `json:"-"`
}

// SetupRequest represents the initial operator account
type SetupRequest struct {
	Username string
	Password string
}

// IsSetupComplete checks if initial setup has been completed
func (s *UserService) IsSetupComplete(ctx context.Context) (bool, error) {
	return s.db.IsSetupComplete(ctx)
}

// PerformInitialSetup creates the operator account and, unless one is
// configured, a persisted session secret
func (s *UserService) PerformInitialSetup(ctx context.Context, req *SetupRequest) (*LoginResult, error) {
	complete, err := s.db.IsSetupComplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check setup status: %w", err)
	}
	if complete {
		return nil, ErrSetupComplete
	}

	if !usernamePattern.MatchString(req.Username) {
		return nil, fmt.Errorf("%w: username must be 1-24 lowercase letters, digits or underscores", ErrInvalidRequest)
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		return nil, fmt.Errorf("%w: weak password: %v", ErrInvalidRequest, err)
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var secret string
	if !s.sessions.HasSecret() {
		secret, err = generateSecret()
		if err != nil {
			return nil, err
		}
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: sql.NullString{String: hash, Valid: true},
		Role:         RoleAdmin,
		CertAuth:     string(auth.LevelDisabled),
		CreatedAt:    s.now().UTC(),
	}

	err = s.db.WithTx(ctx, func(tx *database.Database) error {
		if secret != "" {
			if err := tx.SetSystemConfig(ctx, sessionSecretKey, secret); err != nil {
				return fmt.Errorf("failed to store session secret: %w", err)
			}
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, database.ErrConflict) {
				return ErrUsernameTaken
			}
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if secret != "" {
		s.sessions.SetSecret(secret)
	}

	s.logger.Info("Initial setup complete", zap.String("username", user.Username))
	return s.issue(user, &auth.Session{Method: auth.MethodPassword})
}

// LoadSessionSecret installs the persisted session secret when none is
// configured. A deployment that has not run setup has none yet.
func (s *UserService) LoadSessionSecret(ctx context.Context) error {
	if s.sessions.HasSecret() {
		return nil
	}

	secret, err := s.db.GetSystemConfig(ctx, sessionSecretKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to get session secret: %w", err)
	}

	s.sessions.SetSecret(secret)
	return nil
}

// LoginPassword authenticates an operator account by password. ev is the
// evaluation of the login request itself.
func (s *UserService) LoginPassword(ctx context.Context, username, password string, ev *Evaluation) (*LoginResult, error) {
	user, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidLogin
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !user.PasswordHash.Valid {
		return nil, ErrInvalidLogin
	}
	if err := auth.VerifyPassword(password, user.PasswordHash.String); err != nil {
		return nil, ErrInvalidLogin
	}

	if err := requireCertificateLogin(user, ev); err != nil {
		return nil, err
	}

	return s.issue(user, &auth.Session{Method: auth.MethodPassword})
}

// LoginOpenID logs in the account bound to a verified OpenID identity
func (s *UserService) LoginOpenID(ctx context.Context, assertion string, ev *Evaluation) (*LoginResult, error) {
	url, err := verify(ctx, s.openid, assertion)
	if err != nil {
		return nil, err
	}

	ident, err := s.db.GetIdentityURL(ctx, url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnregisteredIdentity, url)
		}
		return nil, fmt.Errorf("failed to look up OpenID identity: %w", err)
	}

	return s.loginIdentity(ctx, ident.UserID, ev, &auth.Session{Method: auth.MethodOpenID, OpenIDURL: url})
}

// LoginPersona logs in the account bound to a verified Persona email
func (s *UserService) LoginPersona(ctx context.Context, assertion string, ev *Evaluation) (*LoginResult, error) {
	email, err := verify(ctx, s.persona, assertion)
	if err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)

	ident, err := s.db.GetIdentityEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnregisteredIdentity, email)
		}
		return nil, fmt.Errorf("failed to look up Persona identity: %w", err)
	}

	return s.loginIdentity(ctx, ident.UserID, ev, &auth.Session{Method: auth.MethodPersona, PersonaAddr: email})
}

func (s *UserService) loginIdentity(ctx context.Context, userID string, ev *Evaluation, session *auth.Session) (*LoginResult, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := requireCertificateLogin(user, ev); err != nil {
		return nil, err
	}

	return s.issue(user, session)
}

// LoginCertificate logs in the owner of the verified certificate presented
// with the request. Accounts at LevelDisabled do not accept it.
func (s *UserService) LoginCertificate(ctx context.Context, ev *Evaluation) (*LoginResult, error) {
	if ev == nil || ev.CertOutcome != CertVerified || ev.Certificate == nil {
		return nil, fmt.Errorf("%w: no valid client certificate was presented", ErrCertificateLogin)
	}

	user, err := s.db.GetUserByID(ctx, ev.Certificate.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if auth.Level(user.CertAuth) == auth.LevelDisabled {
		return nil, fmt.Errorf("%w: certificate login is disabled for this account", ErrCertificateLogin)
	}

	s.logger.Info("Certificate login",
		zap.String("user_id", user.ID),
		zap.Int64("serial", ev.Certificate.Serial))
	return s.issue(user, &auth.Session{Method: auth.MethodCertificate})
}

// RegisterRequest creates an account from a verified identity
type RegisterRequest struct {
	Username  string
	Method    string // auth.MethodOpenID or auth.MethodPersona
	Assertion string
}

// Register verifies the assertion and creates the account together with
// its first identity. The result is logged in with that identity.
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*LoginResult, error) {
	if !usernamePattern.MatchString(req.Username) {
		return nil, fmt.Errorf("%w: username must be 1-24 lowercase letters, digits or underscores", ErrInvalidRequest)
	}

	var verifier identity.Verifier
	switch req.Method {
	case auth.MethodOpenID:
		verifier = s.openid
	case auth.MethodPersona:
		verifier = s.persona
	default:
		return nil, fmt.Errorf("%w: unsupported registration method %q", ErrInvalidRequest, req.Method)
	}

	value, err := verify(ctx, verifier, req.Assertion)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &models.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Role:      RoleUser,
		CertAuth:  string(auth.LevelDisabled),
		CreatedAt: now,
	}
	session := &auth.Session{Method: req.Method}

	err = s.db.WithTx(ctx, func(tx *database.Database) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, database.ErrConflict) {
				return ErrUsernameTaken
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		var identErr error
		if req.Method == auth.MethodPersona {
			value = NormalizeEmail(value)
			session.PersonaAddr = value
			identErr = tx.CreateIdentityEmail(ctx, &models.IdentityEmail{
				ID: uuid.New().String(), Email: value, UserID: user.ID, CreatedAt: now,
			})
		} else {
			session.OpenIDURL = value
			identErr = tx.CreateIdentityURL(ctx, &models.IdentityURL{
				ID: uuid.New().String(), URL: value, UserID: user.ID, CreatedAt: now,
			})
		}
		if identErr != nil {
			if errors.Is(identErr, database.ErrConflict) {
				kind := CredentialOpenID
				if req.Method == auth.MethodPersona {
					kind = CredentialPersona
				}
				return &DuplicateCredentialError{Kind: kind, Value: value}
			}
			return fmt.Errorf("failed to store identity: %w", identErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Registered user",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("method", req.Method))
	return s.issue(user, session)
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *UserService) issue(user *models.User, session *auth.Session) (*LoginResult, error) {
	session.UserID = user.ID
	session.Username = user.Username
	session.Role = user.Role

	token, err := s.sessions.Issue(session)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	return &LoginResult{User: user, Token: token, Session: session}, nil
}

// requireCertificateLogin refuses a non-certificate login to an account at
// LevelRequired unless the same request proved one of its certificates
func requireCertificateLogin(user *models.User, ev *Evaluation) error {
	if auth.Level(user.CertAuth) != auth.LevelRequired {
		return nil
	}
	if ev != nil && ev.CertOutcome == CertVerified && ev.Certificate != nil && ev.Certificate.UserID == user.ID {
		return nil
	}
	return fmt.Errorf("%w: this account requires a client certificate to log in", ErrCertificateLogin)
}

func verify(ctx context.Context, v identity.Verifier, assertion string) (string, error) {
	if v == nil {
		return "", identity.ErrNotConfigured
	}
	if strings.TrimSpace(assertion) == "" {
		return "", fmt.Errorf("%w: assertion is required", ErrInvalidRequest)
	}

	value, err := v.Verify(ctx, assertion)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLogin, err)
	}
	return value, nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
