package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/config"
	"github.com/robcowart/galleryauth/internal/crypto"
	"github.com/robcowart/galleryauth/internal/database"
	"github.com/robcowart/galleryauth/internal/database/models"
)

// setupTestDB creates a test database with migrations
func setupTestDB(t *testing.T) (*database.Database, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Type: "sqlite",
			SQLite: config.SQLiteConfig{
				Path: filepath.Join(dir, "test.db"),
			},
		},
		Session: config.SessionConfig{
			Secret:     "test-secret-12345",
			Expiration: time.Hour,
			Issuer:     "galleryauth-test",
		},
		CA: config.CAConfig{
			Dir:                 filepath.Join(dir, "ca"),
			SiteTitle:           "Test Gallery",
			RSABits:             2048,
			ValidityDays:        3653,
			Digest:              "sha256",
			LeafValidityDays:    365,
			MaxLeafValidityDays: 1095,
		},
	}

	db, err := database.New(cfg)
	require.NoError(t, err, "Failed to create test database")

	err = db.Migrate()
	require.NoError(t, err, "Failed to run migrations")

	t.Cleanup(func() { db.Close() })
	return db, cfg
}

// testEnv wires every service against one database and a bootstrapped CA
type testEnv struct {
	db        *database.Database
	cfg       *config.Config
	guard     *LockoutGuard
	ca        *CAService
	certs     *CertificateService
	creds     *CredentialService
	policy    *PolicyService
	sessions  *auth.SessionManager
	evaluator *Evaluator
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithLogger(t, zap.NewNop())
}

func newTestEnvWithLogger(t *testing.T, logger *zap.Logger) *testEnv {
	t.Helper()
	db, cfg := setupTestDB(t)

	ca := NewCAService(db, cfg, logger)
	guard := ca.Guard()
	_, err := ca.Bootstrap(cfg.CA.Dir, cfg.CA.SiteTitle)
	require.NoError(t, err)

	sessions := auth.NewSessionManager(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.Expiration)

	return &testEnv{
		db:        db,
		cfg:       cfg,
		guard:     guard,
		ca:        ca,
		certs:     NewCertificateService(db, ca, cfg),
		creds:     NewCredentialService(db, guard, logger),
		policy:    NewPolicyService(db, ca, logger),
		sessions:  sessions,
		evaluator: NewEvaluator(db, ca, sessions, logger),
	}
}

// setNow moves every clock in the environment
func (e *testEnv) setNow(now time.Time) {
	clock := func() time.Time { return now }
	e.guard.now = clock
	e.ca.now = clock
	e.certs.now = clock
	e.creds.now = clock
	e.policy.now = clock
	e.evaluator.now = clock
}

func (e *testEnv) createUser(t *testing.T, username string) *models.User {
	t.Helper()
	user := &models.User{
		ID:        uuid.New().String(),
		Username:  username,
		Role:      RoleUser,
		CertAuth:  string(auth.LevelDisabled),
		CreatedAt: time.Now(),
	}
	require.NoError(t, e.db.CreateUser(context.Background(), user))
	return user
}

// setLevel stores a level directly, bypassing PolicyService checks
func (e *testEnv) setLevel(t *testing.T, userID string, level auth.Level) {
	t.Helper()
	require.NoError(t, e.db.SetUserCertAuth(context.Background(), userID, string(level)))
}

func (e *testEnv) issueCert(t *testing.T, userID string) *models.Certificate {
	t.Helper()
	cert, err := e.ca.Issue(context.Background(), &newECKey(t).PublicKey, userID, 0, "")
	require.NoError(t, err)
	return cert
}

func (e *testEnv) addOpenID(t *testing.T, userID, url string) {
	t.Helper()
	_, err := e.creds.AddOpenID(context.Background(), userID, url)
	require.NoError(t, err)
}

func (e *testEnv) addPersona(t *testing.T, userID, email string) {
	t.Helper()
	_, err := e.creds.AddPersona(context.Background(), userID, email)
	require.NoError(t, err)
}

func (e *testEnv) token(t *testing.T, session *auth.Session) string {
	t.Helper()
	token, err := e.sessions.Issue(session)
	require.NoError(t, err)
	return token
}

// loginPathCount counts valid certificates plus identities, the quantity
// the lockout guard protects
func (e *testEnv) loginPathCount(t *testing.T, userID string) int {
	t.Helper()
	paths, err := loginPaths(context.Background(), e.db, userID, e.ca.Fingerprint(), e.guard.now())
	require.NoError(t, err)
	return len(paths)
}

func newECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func certDER(t *testing.T, cert *models.Certificate) []byte {
	t.Helper()
	parsed, err := crypto.ParseCertificatePEM([]byte(cert.CertificatePEM))
	require.NoError(t, err)
	return parsed.Raw
}
