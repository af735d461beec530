package database

import (
	"context"

	"github.com/robcowart/galleryauth/internal/database/models"
)

// CreateIdentityURL binds an OpenID URL to a user
func (d *Database) CreateIdentityURL(ctx context.Context, ident *models.IdentityURL) error {
	_, err := d.exec(ctx, `INSERT INTO identity_urls (id, url, user_id, created_at) VALUES (?, ?, ?, ?)`,
		ident.ID, ident.URL, ident.UserID, ident.CreatedAt.UTC())
	return err
}

// GetIdentityURL retrieves an OpenID URL binding regardless of owner
func (d *Database) GetIdentityURL(ctx context.Context, url string) (*models.IdentityURL, error) {
	var ident models.IdentityURL
	err := d.q.QueryRowContext(ctx,
		d.rebind(`SELECT id, url, user_id, created_at FROM identity_urls WHERE url = ?`), url,
	).Scan(&ident.ID, &ident.URL, &ident.UserID, &ident.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// ListIdentityURLs retrieves a user's OpenID URLs
func (d *Database) ListIdentityURLs(ctx context.Context, userID string) ([]*models.IdentityURL, error) {
	rows, err := d.q.QueryContext(ctx,
		d.rebind(`SELECT id, url, user_id, created_at FROM identity_urls WHERE user_id = ? ORDER BY created_at ASC, url ASC`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idents []*models.IdentityURL
	for rows.Next() {
		var ident models.IdentityURL
		if err := rows.Scan(&ident.ID, &ident.URL, &ident.UserID, &ident.CreatedAt); err != nil {
			return nil, err
		}
		idents = append(idents, &ident)
	}

	return idents, rows.Err()
}

// DeleteIdentityURL unbinds an OpenID URL from a user
func (d *Database) DeleteIdentityURL(ctx context.Context, userID, url string) error {
	return d.execOne(ctx, `DELETE FROM identity_urls WHERE user_id = ? AND url = ?`, userID, url)
}

// CreateIdentityEmail binds a Persona email to a user
func (d *Database) CreateIdentityEmail(ctx context.Context, ident *models.IdentityEmail) error {
	_, err := d.exec(ctx, `INSERT INTO identity_emails (id, email, user_id, created_at) VALUES (?, ?, ?, ?)`,
		ident.ID, ident.Email, ident.UserID, ident.CreatedAt.UTC())
	return err
}

// GetIdentityEmail retrieves a Persona email binding regardless of owner
func (d *Database) GetIdentityEmail(ctx context.Context, email string) (*models.IdentityEmail, error) {
	var ident models.IdentityEmail
	err := d.q.QueryRowContext(ctx,
		d.rebind(`SELECT id, email, user_id, created_at FROM identity_emails WHERE email = ?`), email,
	).Scan(&ident.ID, &ident.Email, &ident.UserID, &ident.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// ListIdentityEmails retrieves a user's Persona emails
func (d *Database) ListIdentityEmails(ctx context.Context, userID string) ([]*models.IdentityEmail, error) {
	rows, err := d.q.QueryContext(ctx,
		d.rebind(`SELECT id, email, user_id, created_at FROM identity_emails WHERE user_id = ? ORDER BY created_at ASC, email ASC`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idents []*models.IdentityEmail
	for rows.Next() {
		var ident models.IdentityEmail
		if err := rows.Scan(&ident.ID, &ident.Email, &ident.UserID, &ident.CreatedAt); err != nil {
			return nil, err
		}
		idents = append(idents, &ident)
	}

	return idents, rows.Err()
}

// DeleteIdentityEmail unbinds a Persona email from a user
func (d *Database) DeleteIdentityEmail(ctx context.Context, userID, email string) error {
	return d.execOne(ctx, `DELETE FROM identity_emails WHERE user_id = ? AND email = ?`, userID, email)
}
