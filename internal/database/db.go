// Package database provides database connection management, migrations, and
// data access methods for galleryauth. Credential mutations run inside
// per-user locked transactions obtained through WithUserLock.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/robcowart/galleryauth/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrConflict is returned when an insert violates a unique constraint
var ErrConflict = errors.New("unique constraint violation")

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database represents the database connection and operations. A Database
// returned to a WithTx or WithUserLock callback is bound to that transaction.
type Database struct {
	db     *sql.DB
	q      querier
	inTx   bool
	dbType string
}

// New creates a new database connection
func New(cfg *config.Config) (*Database, error) {
	var db *sql.DB
	var err error

	switch cfg.Database.Type {
	case "sqlite":
		// BEGIN IMMEDIATE takes the write lock up front so two transactions
		// never both read credential state before one of them writes.
		db, err = sql.Open("sqlite3", cfg.Database.SQLite.Path+"?_foreign_keys=on&_txlock=immediate")
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite only allows one writer at a time
	case "postgres":
		db, err = sql.Open("postgres", cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewFromDB(db, cfg.Database.Type), nil
}

// NewFromDB wraps an already opened connection pool
func NewFromDB(db *sql.DB, dbType string) *Database {
	return &Database{db: db, q: db, dbType: dbType}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying database connection for direct queries
func (d *Database) DB() *sql.DB {
	return d.db
}

// Type returns the configured driver type
func (d *Database) Type() string {
	return d.dbType
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	suffix := ".up.sql"
	if d.dbType == "postgres" {
		suffix = ".postgres.up.sql"
	}
	migrationFiles := []string{
		"migrations/000001_init_schema" + suffix,
		"migrations/000002_identity_credentials" + suffix,
	}

	for _, migrationFile := range migrationFiles {
		content, err := migrationsFS.ReadFile(migrationFile)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", migrationFile, err)
		}

		for _, stmt := range splitStatements(string(content)) {
			if _, err := d.db.Exec(stmt); err != nil {
				if !strings.Contains(err.Error(), "already exists") {
					return fmt.Errorf("migration %s failed: %w\nStatement: %s", migrationFile, err, stmt)
				}
			}
		}
	}

	return nil
}

// splitStatements drops comment lines and splits on trailing semicolons
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(line, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	return statements
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic. Calls made on a Database
// already bound to a transaction reuse it.
func (d *Database) WithTx(ctx context.Context, fn func(tx *Database) error) (err error) {
	if d.inTx {
		return fn(d)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(&Database{db: d.db, q: tx, inTx: true, dbType: d.dbType})
}

// WithUserLock runs fn inside a transaction holding the lock on the user's
// row. Every credential mutation for the user goes through here so that a
// check and the write that depends on it commit together. Returns
// sql.ErrNoRows if the user does not exist.
func (d *Database) WithUserLock(ctx context.Context, userID string, fn func(tx *Database) error) error {
	return d.WithTx(ctx, func(tx *Database) error {
		if err := tx.lockUser(ctx, userID); err != nil {
			return err
		}
		return fn(tx)
	})
}

func (d *Database) lockUser(ctx context.Context, userID string) error {
	query := `SELECT id FROM users WHERE id = ?`
	if d.dbType == "postgres" {
		query += ` FOR UPDATE`
	}

	var id string
	return d.q.QueryRowContext(ctx, d.rebind(query), userID).Scan(&id)
}

// rebind rewrites ? placeholders into $n for PostgreSQL
func (d *Database) rebind(query string) string {
	if d.dbType != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// translateError maps driver-specific unique violations to ErrConflict
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}

	return err
}

func (d *Database) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.q.ExecContext(ctx, d.rebind(query), args...)
	return res, translateError(err)
}

// execOne runs a statement that must affect exactly one row
func (d *Database) execOne(ctx context.Context, query string, args ...any) error {
	res, err := d.exec(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
