package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robcowart/galleryauth/internal/auth"
)

func TestCredentialService_AddOpenID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	t.Run("Add identity", func(t *testing.T) {
		ident, err := env.creds.AddOpenID(ctx, alice.ID, "  https://alice.example.com/ ")
		require.NoError(t, err)
		assert.Equal(t, "https://alice.example.com/", ident.URL)
		assert.Equal(t, alice.ID, ident.UserID)

		urls, err := env.creds.ListOpenID(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, urls, 1)
		assert.Equal(t, ident.ID, urls[0].ID)
	})

	t.Run("Duplicate on same account", func(t *testing.T) {
		_, err := env.creds.AddOpenID(ctx, alice.ID, "https://alice.example.com/")
		require.ErrorIs(t, err, ErrDuplicateCredential)

		var dup *DuplicateCredentialError
		require.ErrorAs(t, err, &dup)
		assert.True(t, dup.SameUser)
		assert.Equal(t, "You can already authenticate with that OpenID identity", err.Error())
	})

	t.Run("Duplicate on another account", func(t *testing.T) {
		_, err := env.creds.AddOpenID(ctx, bob.ID, "https://alice.example.com/")
		require.ErrorIs(t, err, ErrDuplicateCredential)
		assert.Contains(t, err.Error(), "in use by another account")
	})

	t.Run("Empty URL", func(t *testing.T) {
		_, err := env.creds.AddOpenID(ctx, alice.ID, "   ")
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("Unknown user", func(t *testing.T) {
		_, err := env.creds.AddOpenID(ctx, "missing", "https://nobody.example.com/")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCredentialService_AddPersona(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	ident, err := env.creds.AddPersona(ctx, alice.ID, "Alice@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", ident.Email)

	t.Run("Case-insensitive duplicate on same account", func(t *testing.T) {
		_, err := env.creds.AddPersona(ctx, alice.ID, "ALICE@example.com")
		require.ErrorIs(t, err, ErrDuplicateCredential)
		assert.Contains(t, err.Error(), "already belongs to your account")
	})

	t.Run("Duplicate on another account", func(t *testing.T) {
		_, err := env.creds.AddPersona(ctx, bob.ID, "alice@example.com")
		require.ErrorIs(t, err, ErrDuplicateCredential)
		assert.Contains(t, err.Error(), "already belongs to another account")
	})
}

func TestCredentialService_Remove(t *testing.T) {
	ctx := context.Background()

	t.Run("Remove OpenID", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice")
		env.addOpenID(t, user.ID, "https://a.example.com/")
		env.addPersona(t, user.ID, "alice@example.com")

		require.NoError(t, env.creds.RemoveOpenID(ctx, user.ID, nil, "https://a.example.com/"))

		urls, err := env.creds.ListOpenID(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, urls)
	})

	t.Run("Remove Persona ignores case", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice")
		env.addOpenID(t, user.ID, "https://a.example.com/")
		env.addPersona(t, user.ID, "alice@example.com")

		require.NoError(t, env.creds.RemovePersona(ctx, user.ID, nil, "ALICE@example.com"))

		emails, err := env.creds.ListPersona(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, emails)
	})

	t.Run("Nothing selected", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice")

		err := env.creds.RemoveOpenID(ctx, user.ID, nil)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		err = env.creds.RemovePersona(ctx, user.ID, nil, "")
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("Identity of another account", func(t *testing.T) {
		env := newTestEnv(t)
		alice := env.createUser(t, "alice")
		bob := env.createUser(t, "bob")
		env.addOpenID(t, alice.ID, "https://a.example.com/")
		env.addOpenID(t, bob.ID, "https://b1.example.com/")
		env.addOpenID(t, bob.ID, "https://b2.example.com/")

		err := env.creds.RemoveOpenID(ctx, alice.ID, nil, "https://b1.example.com/")
		assert.ErrorIs(t, err, ErrNotFound)

		urls, err := env.creds.ListOpenID(ctx, bob.ID)
		require.NoError(t, err)
		assert.Len(t, urls, 2)
	})

	t.Run("Identity of the active session", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice")
		env.addOpenID(t, user.ID, "https://a.example.com/")
		env.addOpenID(t, user.ID, "https://b.example.com/")
		session := &auth.Session{UserID: user.ID, Method: auth.MethodOpenID, OpenIDURL: "https://a.example.com/"}

		err := env.creds.RemoveOpenID(ctx, user.ID, session, "https://a.example.com/")
		require.ErrorIs(t, err, ErrActiveSessionCredential)
		assert.Contains(t, err.Error(), "currently logged in")

		assert.NoError(t, env.creds.RemoveOpenID(ctx, user.ID, session, "https://b.example.com/"))
	})

	t.Run("Persona address of the active session", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice")
		env.addOpenID(t, user.ID, "https://a.example.com/")
		env.addPersona(t, user.ID, "alice@example.com")
		session := &auth.Session{UserID: user.ID, Method: auth.MethodPersona, PersonaAddr: "Alice@example.com"}

		err := env.creds.RemovePersona(ctx, user.ID, session, "alice@example.com")
		assert.ErrorIs(t, err, ErrActiveSessionCredential)

		emails, err := env.creds.ListPersona(ctx, user.ID)
		require.NoError(t, err)
		assert.Len(t, emails, 1)
	})

	t.Run("Duplicates in a batch count once", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, "alice")
		env.addOpenID(t, user.ID, "https://a.example.com/")
		env.addOpenID(t, user.ID, "https://b.example.com/")

		require.NoError(t, env.creds.RemoveOpenID(ctx, user.ID, nil, "https://a.example.com/", "https://a.example.com/"))
		assert.Equal(t, 1, env.loginPathCount(t, user.ID))
	})
}
