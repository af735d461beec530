package database

import (
	"context"

	"github.com/robcowart/galleryauth/internal/database/models"
)

const userColumns = `id, username, password_hash, role, cert_auth, created_at`

// CreateUser creates a new user
func (d *Database) CreateUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := d.exec(ctx, query,
		user.ID, user.Username, user.PasswordHash, user.Role, user.CertAuth, user.CreatedAt.UTC(),
	)
	return err
}

// GetUserByID retrieves a user by ID
func (d *Database) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return d.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return d.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (d *Database) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	err := d.q.QueryRowContext(ctx, d.rebind(query), arg).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CertAuth, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetUserCertAuth stores the user's certificate authentication level
func (d *Database) SetUserCertAuth(ctx context.Context, id, level string) error {
	return d.execOne(ctx, `UPDATE users SET cert_auth = ? WHERE id = ?`, level, id)
}

// IsSetupComplete checks if initial setup has been completed
func (d *Database) IsSetupComplete(ctx context.Context) (bool, error) {
	var count int
	err := d.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = 'admin'`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
