package database

import (
	"context"
	"time"
)

// SetSystemConfig sets a system configuration value
func (d *Database) SetSystemConfig(ctx context.Context, key, value string) error {
	query := `INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
	          ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	_, err := d.exec(ctx, query, key, value, time.Now().UTC())
	return err
}

// GetSystemConfig retrieves a system configuration value
func (d *Database) GetSystemConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := d.q.QueryRowContext(ctx, d.rebind(`SELECT value FROM system_config WHERE key = ?`), key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}
