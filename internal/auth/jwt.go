// Package auth provides the session and trust vocabulary of galleryauth:
// signed session tokens recording how a user logged in, certificate
// authentication levels, request principals, and operator password hashing.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Login methods recorded in a session
const (
	MethodPassword    = "password"
	MethodOpenID      = "openid"
	MethodPersona     = "persona"
	MethodCertificate = "certificate"
)

// ErrNoSecret is returned when tokens are requested before a secret is configured
var ErrNoSecret = errors.New("session secret not configured")

// Session is the resolved state of a session token. OpenIDURL and
// PersonaAddr hold the identity the session logged in with, if any.
type Session struct {
	UserID      string
	Username    string
	Role        string
	Method      string
	OpenIDURL   string
	PersonaAddr string
	ExpiresAt   time.Time
}

// Claims represents JWT claims
type Claims struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	Method      string `json:"method"`
	OpenIDURL   string `json:"openid_url,omitempty"`
	PersonaAddr string `json:"persona_addr,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager issues and resolves HS256 session tokens
type SessionManager struct {
	mu         sync.RWMutex
	secret     []byte
	issuer     string
	expiration time.Duration
}

// NewSessionManager creates a session manager. An empty secret is allowed
// until setup stores one with SetSecret.
func NewSessionManager(secret, issuer string, expiration time.Duration) *SessionManager {
	return &SessionManager{
		secret:     []byte(secret),
		issuer:     issuer,
		expiration: expiration,
	}
}

// SetSecret replaces the signing secret
func (m *SessionManager) SetSecret(secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = []byte(secret)
}

// HasSecret reports whether a signing secret is configured
func (m *SessionManager) HasSecret() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secret) > 0
}

func (m *SessionManager) key() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.secret) == 0 {
		return nil, ErrNoSecret
	}
	return m.secret, nil
}

// Issue signs a token for the session
func (m *SessionManager) Issue(s *Session) (string, error) {
	key, err := m.key()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := &Claims{
		UserID:      s.UserID,
		Username:    s.Username,
		Role:        s.Role,
		Method:      s.Method,
		OpenIDURL:   s.OpenIDURL,
		PersonaAddr: s.PersonaAddr,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// Resolve validates a token and returns its session
func (m *SessionManager) Resolve(tokenString string) (*Session, error) {
	key, err := m.key()
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token")
	}

	session := &Session{
		UserID:      claims.UserID,
		Username:    claims.Username,
		Role:        claims.Role,
		Method:      claims.Method,
		OpenIDURL:   claims.OpenIDURL,
		PersonaAddr: claims.PersonaAddr,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}
