package service

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/robcowart/galleryauth/internal/crypto"
	"github.com/robcowart/galleryauth/internal/database/models"
)

func TestCertificateService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	env.addOpenID(t, alice.ID, "https://alice.example.com/")

	first := env.issueCert(t, alice.ID)
	second := env.issueCert(t, alice.ID)
	env.issueCert(t, bob.ID)
	require.NoError(t, env.ca.Revoke(ctx, first.Serial))

	t.Run("All certificates in issuance order", func(t *testing.T) {
		certs, err := env.certs.ListForUser(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, certs, 2)
		assert.Equal(t, first.Serial, certs[0].Serial)
		assert.Equal(t, second.Serial, certs[1].Serial)
		assert.True(t, certs[0].Revoked)
	})

	t.Run("Valid certificates only", func(t *testing.T) {
		valid, err := env.certs.ValidCertificates(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, valid, 1)
		assert.Equal(t, second.Serial, valid[0].Serial)
	})

	t.Run("Nothing is valid once expired", func(t *testing.T) {
		env.setNow(time.Now().AddDate(0, 0, env.cfg.CA.LeafValidityDays+1))
		defer env.setNow(time.Now())

		valid, err := env.certs.ValidCertificates(ctx, alice.ID)
		require.NoError(t, err)
		assert.Empty(t, valid)
	})

	t.Run("User without certificates", func(t *testing.T) {
		carol := env.createUser(t, "carol")
		certs, err := env.certs.ListForUser(ctx, carol.ID)
		require.NoError(t, err)
		assert.Empty(t, certs)
	})
}

func TestCertificateService_Find(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	cert := env.issueCert(t, alice.ID)

	found, err := env.certs.FindBySerial(ctx, cert.Serial)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, found.ID)
	assert.Equal(t, cert.CertificatePEM, found.CertificatePEM)

	_, err = env.certs.FindBySerial(ctx, cert.Serial+100)
	assert.ErrorIs(t, err, ErrNotFound)

	owned, err := env.certs.FindForUser(ctx, alice.ID, cert.Serial)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, owned.ID)

	_, err = env.certs.FindForUser(ctx, bob.ID, cert.Serial)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCertificateService_Status(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.setNow(now)

	tests := []struct {
		name     string
		cert     *models.Certificate
		expected string
		days     int
	}{
		{
			name:     "Valid",
			cert:     &models.Certificate{NotBefore: now.AddDate(0, 0, -1), NotAfter: now.AddDate(0, 0, 100)},
			expected: StatusValid,
			days:     100,
		},
		{
			name:     "Expiring soon",
			cert:     &models.Certificate{NotBefore: now.AddDate(0, 0, -300), NotAfter: now.AddDate(0, 0, 10)},
			expected: StatusExpiringSoon,
			days:     10,
		},
		{
			name:     "Expired",
			cert:     &models.Certificate{NotBefore: now.AddDate(-1, 0, 0), NotAfter: now.AddDate(0, 0, -1)},
			expected: StatusExpired,
		},
		{
			name:     "Revoked wins over validity",
			cert:     &models.Certificate{NotBefore: now.AddDate(0, 0, -1), NotAfter: now.AddDate(0, 0, 100), Revoked: true},
			expected: StatusRevoked,
		},
		{
			name:     "Not yet valid",
			cert:     &models.Certificate{NotBefore: now.AddDate(0, 0, 1), NotAfter: now.AddDate(0, 0, 50)},
			expected: StatusNotYetValid,
			days:     50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := env.certs.Status(tt.cert)
			assert.Equal(t, tt.expected, status.Status)
			assert.Equal(t, tt.days, status.DaysUntilExp)
		})
	}
}

func TestCertificateService_ListWithStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice")
	env.addPersona(t, user.ID, "alice@example.com")
	revoked := env.issueCert(t, user.ID)
	env.issueCert(t, user.ID)
	require.NoError(t, env.ca.Revoke(ctx, revoked.Serial))

	statuses, err := env.certs.ListWithStatus(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, StatusRevoked, statuses[0].Status)
	assert.Equal(t, StatusValid, statuses[1].Status)
}

func TestCertificateService_IssueFromCSR(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice")

	t.Run("Subject comes from the CA", func(t *testing.T) {
		key := newECKey(t)
		der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
			Subject: pkix.Name{CommonName: "someone-else", Organization: []string{"Impostors"}},
		}, key)
		require.NoError(t, err)
		csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})

		cert, err := env.certs.IssueFromCSR(ctx, user.ID, csrPEM, 90)
		require.NoError(t, err)

		leaf, err := crypto.ParseCertificatePEM([]byte(cert.CertificatePEM))
		require.NoError(t, err)
		assert.Equal(t, user.ID, leaf.Subject.CommonName)
		assert.Equal(t, []string{env.cfg.CA.SiteTitle}, leaf.Subject.Organization)
		assert.True(t, key.PublicKey.Equal(leaf.PublicKey))
		assert.Equal(t, 90*24*time.Hour, cert.NotAfter.Sub(cert.NotBefore))
	})

	t.Run("Malformed request", func(t *testing.T) {
		_, err := env.certs.IssueFromCSR(ctx, user.ID, []byte("-----BEGIN CERTIFICATE REQUEST-----\nAAAA\n-----END CERTIFICATE REQUEST-----\n"), 0)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, err = env.certs.IssueFromCSR(ctx, user.ID, []byte("hello"), 0)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestCertificateService_GenerateForUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice")

	for _, legacy := range []bool{false, true} {
		result, err := env.certs.GenerateForUser(ctx, &GenerateRequest{
			UserID:     user.ID,
			Passphrase: "correct horse",
			Legacy:     legacy,
		})
		require.NoError(t, err)
		assert.Equal(t, crypto.KeyTypeRSA, result.Certificate.PublicKeyAlgorithm)

		key, leaf, chain, err := pkcs12.DecodeChain(result.Bundle, "correct horse")
		require.NoError(t, err)
		require.NotNil(t, key)
		assert.Equal(t, result.Certificate.Serial, leaf.SerialNumber.Int64())
		require.Len(t, chain, 1)
		assert.Equal(t, env.ca.Certificate().Raw, chain[0].Raw)

		_, _, _, err = pkcs12.DecodeChain(result.Bundle, "wrong")
		assert.Error(t, err)
	}

	_, err := env.certs.GenerateForUser(ctx, &GenerateRequest{UserID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}
