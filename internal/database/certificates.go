package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/robcowart/galleryauth/internal/database/models"
)

const certificateColumns = `id, serial, ca_fingerprint, user_id, subject, public_key_algorithm, digest,
	not_before, not_after, revoked, revoked_at, certificate_pem, created_at`

// NextSerial advances and returns the serial sequence of the given CA.
// The first serial handed out for a CA is 1.
func (d *Database) NextSerial(ctx context.Context, caFingerprint string) (int64, error) {
	query := `INSERT INTO ca_serials (ca_fingerprint, last_serial) VALUES (?, 1)
	          ON CONFLICT (ca_fingerprint) DO UPDATE SET last_serial = ca_serials.last_serial + 1
	          RETURNING last_serial`

	var serial int64
	if err := d.q.QueryRowContext(ctx, d.rebind(query), caFingerprint).Scan(&serial); err != nil {
		return 0, err
	}
	return serial, nil
}

// CreateCertificate creates a new certificate
func (d *Database) CreateCertificate(ctx context.Context, cert *models.Certificate) error {
	query := `INSERT INTO certificates (` + certificateColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.exec(ctx, query,
		cert.ID, cert.Serial, cert.CAFingerprint, cert.UserID, cert.Subject,
		cert.PublicKeyAlgorithm, cert.Digest, cert.NotBefore.UTC(), cert.NotAfter.UTC(),
		cert.Revoked, cert.RevokedAt, cert.CertificatePEM, cert.CreatedAt.UTC(),
	)
	return err
}

// GetCertificateBySerial retrieves the certificate the given CA issued under serial
func (d *Database) GetCertificateBySerial(ctx context.Context, caFingerprint string, serial int64) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE ca_fingerprint = ? AND serial = ?`

	cert, err := scanCertificate(d.q.QueryRowContext(ctx, d.rebind(query), caFingerprint, serial))
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// ListCertificatesByUser retrieves a user's certificates in issuance order
func (d *Database) ListCertificatesByUser(ctx context.Context, userID string) ([]*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE user_id = ?
	          ORDER BY created_at ASC, serial ASC`

	rows, err := d.q.QueryContext(ctx, d.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certificates []*models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certificates = append(certificates, cert)
	}

	return certificates, rows.Err()
}

// RevokeCertificate marks a certificate as revoked
func (d *Database) RevokeCertificate(ctx context.Context, id string, at time.Time) error {
	return d.execOne(ctx, `UPDATE certificates SET revoked = ?, revoked_at = ? WHERE id = ?`,
		true, sql.NullTime{Time: at.UTC(), Valid: true}, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*models.Certificate, error) {
	var cert models.Certificate
	err := row.Scan(
		&cert.ID, &cert.Serial, &cert.CAFingerprint, &cert.UserID, &cert.Subject,
		&cert.PublicKeyAlgorithm, &cert.Digest, &cert.NotBefore, &cert.NotAfter,
		&cert.Revoked, &cert.RevokedAt, &cert.CertificatePEM, &cert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}
