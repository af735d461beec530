// Package models defines the data structures for database entities in galleryauth.
// It includes models for users, issued client certificates, the alternate
// identity credentials bound to a user (OpenID URLs and Persona emails), and
// system configuration.
package models

import (
	"database/sql"
	"time"
)

// User represents an account. CertAuth holds the account's certificate
// authentication level.
type User struct {
	ID           string         `db:"id" json:"id"`
	Username     string         `db:"username" json:"username"`
	PasswordHash sql.NullString `db:"password_hash" json:"-"`
	Role         string         `db:"role" json:"role"`
	CertAuth     string         `db:"cert_auth" json:"cert_auth"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Certificate represents a client certificate issued by the deployment CA.
// Rows are never deleted; revocation only flips Revoked.
type Certificate struct {
	ID                 string       `db:"id" json:"id"`
	Serial             int64        `db:"serial" json:"serial"`
	CAFingerprint      string       `db:"ca_fingerprint" json:"ca_fingerprint"`
	UserID             string       `db:"user_id" json:"user_id"`
	Subject            string       `db:"subject" json:"subject"`
	PublicKeyAlgorithm string       `db:"public_key_algorithm" json:"public_key_algorithm"`
	Digest             string       `db:"digest" json:"digest"`
	NotBefore          time.Time    `db:"not_before" json:"not_before"`
	NotAfter           time.Time    `db:"not_after" json:"not_after"`
	Revoked            bool         `db:"revoked" json:"revoked"`
	RevokedAt          sql.NullTime `db:"revoked_at" json:"revoked_at"`
	CertificatePEM     string       `db:"certificate_pem" json:"certificate_pem"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
}

// IsValidAt reports whether the certificate can authenticate at t.
func (c *Certificate) IsValidAt(t time.Time) bool {
	return !c.Revoked && !t.Before(c.NotBefore) && !t.After(c.NotAfter)
}

// IdentityURL is an OpenID identity URL bound to a user
type IdentityURL struct {
	ID        string    `db:"id" json:"id"`
	URL       string    `db:"url" json:"url"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IdentityEmail is a Persona-verified email address bound to a user
type IdentityEmail struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SystemConfig represents system-wide configuration stored in the database
type SystemConfig struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}
