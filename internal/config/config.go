// Package config provides configuration management for galleryauth.
// It handles loading configuration from YAML files, applying environment variable
// and command line overrides, and validating configuration values for the server,
// database, session, certificate authority, identity verifier, logging, and
// security settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	CA       CAConfig       `yaml:"ca"`
	Identity IdentityConfig `yaml:"identity"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
	TLSCert      string        `yaml:"tls_cert"`
	TLSKey       string        `yaml:"tls_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// SessionConfig holds session token configuration
type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	Expiration time.Duration `yaml:"expiration"`
	Issuer     string        `yaml:"issuer"`
}

// CAConfig holds the client certificate authority settings
type CAConfig struct {
	Dir                 string `yaml:"dir"`
	SiteTitle           string `yaml:"site_title"`
	RSABits             int    `yaml:"rsa_bits"`
	ValidityDays        int    `yaml:"validity_days"`
	Digest              string `yaml:"digest"`
	LeafValidityDays    int    `yaml:"leaf_validity_days"`
	MaxLeafValidityDays int    `yaml:"max_leaf_validity_days"`
}

// IdentityConfig holds the OpenID and Persona verification endpoints
type IdentityConfig struct {
	PersonaVerifierURL string        `yaml:"persona_verifier_url"`
	PersonaAudience    string        `yaml:"persona_audience"`
	OpenIDVerifierURL  string        `yaml:"openid_verifier_url"`
	Timeout            time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSEnabled bool     `yaml:"cors_enabled"`
	CORSOrigins []string `yaml:"cors_origins"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/galleryauth.db",
			},
			Postgres: PostgresConfig{
				Port:         5432,
				SSLMode:      "disable",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		Session: SessionConfig{
			Expiration: 24 * time.Hour,
			Issuer:     "galleryauth",
		},
		CA: CAConfig{
			Dir:                 "./data/ca",
			SiteTitle:           "Gallery",
			RSABits:             2048,
			ValidityDays:        10*365 + 3,
			Digest:              "sha256",
			LeafValidityDays:    365,
			MaxLeafValidityDays: 3 * 365,
		},
		Identity: IdentityConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			CORSEnabled: true,
			CORSOrigins: []string{"http://localhost:5173"},
		},
	}
}

// Load reads the configuration file and applies overrides.
// Priority, highest first: command line flags, GALLERYAUTH_* environment
// variables, the configuration file, built-in defaults. A missing file is
// not an error.
func Load(path string, flags *Flags) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if flags != nil {
		if err := cfg.applyFlagOverrides(flags); err != nil {
			return nil, fmt.Errorf("invalid flag value: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvOverrides() {
	// Server overrides
	if port := os.Getenv("GALLERYAUTH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if host := os.Getenv("GALLERYAUTH_SERVER_HOST"); host != "" {
		c.Server.Host = host
	}

	// Database overrides
	if dbType := os.Getenv("GALLERYAUTH_DB_TYPE"); dbType != "" {
		c.Database.Type = dbType
	}
	if dbPath := os.Getenv("GALLERYAUTH_DB_SQLITE_PATH"); dbPath != "" {
		c.Database.SQLite.Path = dbPath
	}
	if pgHost := os.Getenv("GALLERYAUTH_DB_POSTGRES_HOST"); pgHost != "" {
		c.Database.Postgres.Host = pgHost
	}
	if pgPort := os.Getenv("GALLERYAUTH_DB_POSTGRES_PORT"); pgPort != "" {
		if p, err := strconv.Atoi(pgPort); err == nil {
			c.Database.Postgres.Port = p
		}
	}
	if pgDB := os.Getenv("GALLERYAUTH_DB_POSTGRES_DATABASE"); pgDB != "" {
		c.Database.Postgres.Database = pgDB
	}
	if pgUser := os.Getenv("GALLERYAUTH_DB_POSTGRES_USER"); pgUser != "" {
		c.Database.Postgres.User = pgUser
	}
	if pgPass := os.Getenv("GALLERYAUTH_DB_POSTGRES_PASSWORD"); pgPass != "" {
		c.Database.Postgres.Password = pgPass
	}

	// Session overrides
	if secret := os.Getenv("GALLERYAUTH_SESSION_SECRET"); secret != "" {
		c.Session.Secret = secret
	}

	// CA overrides
	if dir := os.Getenv("GALLERYAUTH_CA_DIR"); dir != "" {
		c.CA.Dir = dir
	}
	if title := os.Getenv("GALLERYAUTH_CA_SITE_TITLE"); title != "" {
		c.CA.SiteTitle = title
	}

	// Logging overrides
	if logLevel := os.Getenv("GALLERYAUTH_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
}

func (c *Config) applyFlagOverrides(f *Flags) error {
	if v, ok := f.GetServerPort(); ok {
		c.Server.Port = v
	}
	if v, ok := f.GetServerHost(); ok {
		c.Server.Host = v
	}
	if v, ok := f.GetServerReadTimeout(); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("server.read-timeout: %w", err)
		}
		c.Server.ReadTimeout = d
	}
	if v, ok := f.GetServerWriteTimeout(); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("server.write-timeout: %w", err)
		}
		c.Server.WriteTimeout = d
	}
	if v, ok := f.GetServerTLSEnabled(); ok {
		c.Server.TLSEnabled = v
	}
	if v, ok := f.GetServerTLSCert(); ok {
		c.Server.TLSCert = v
	}
	if v, ok := f.GetServerTLSKey(); ok {
		c.Server.TLSKey = v
	}

	if v, ok := f.GetDBType(); ok {
		c.Database.Type = v
	}
	if v, ok := f.GetDBSQLitePath(); ok {
		c.Database.SQLite.Path = v
	}
	if v, ok := f.GetDBPostgresHost(); ok {
		c.Database.Postgres.Host = v
	}
	if v, ok := f.GetDBPostgresPort(); ok {
		c.Database.Postgres.Port = v
	}
	if v, ok := f.GetDBPostgresDatabase(); ok {
		c.Database.Postgres.Database = v
	}
	if v, ok := f.GetDBPostgresUser(); ok {
		c.Database.Postgres.User = v
	}
	if v, ok := f.GetDBPostgresPassword(); ok {
		c.Database.Postgres.Password = v
	}
	if v, ok := f.GetDBPostgresSSLMode(); ok {
		c.Database.Postgres.SSLMode = v
	}

	if v, ok := f.GetSessionSecret(); ok {
		c.Session.Secret = v
	}
	if v, ok := f.GetSessionExpiration(); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("session.expiration: %w", err)
		}
		c.Session.Expiration = d
	}

	if v, ok := f.GetCADir(); ok {
		c.CA.Dir = v
	}
	if v, ok := f.GetCASiteTitle(); ok {
		c.CA.SiteTitle = v
	}
	if v, ok := f.GetCADigest(); ok {
		c.CA.Digest = v
	}
	if v, ok := f.GetCALeafValidityDays(); ok {
		c.CA.LeafValidityDays = v
	}

	if v, ok := f.GetPersonaVerifierURL(); ok {
		c.Identity.PersonaVerifierURL = v
	}
	if v, ok := f.GetOpenIDVerifierURL(); ok {
		c.Identity.OpenIDVerifierURL = v
	}

	if v, ok := f.GetLogLevel(); ok {
		c.Logging.Level = v
	}
	if v, ok := f.GetLogFormat(); ok {
		c.Logging.Format = v
	}
	if v, ok := f.GetLogOutput(); ok {
		c.Logging.Output = v
	}

	if v, ok := f.GetSecurityCORSEnabled(); ok {
		c.Security.CORSEnabled = v
	}
	if v, ok := f.GetSecurityCORSOrigins(); ok {
		c.Security.CORSOrigins = v
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCert == "" || c.Server.TLSKey == "" {
			return fmt.Errorf("TLS enabled but cert or key not specified")
		}
	}

	// Validate database config
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("invalid database type: %s (must be 'sqlite' or 'postgres')", c.Database.Type)
	}
	if c.Database.Type == "sqlite" && c.Database.SQLite.Path == "" {
		return fmt.Errorf("SQLite path not specified")
	}
	if c.Database.Type == "postgres" {
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("PostgreSQL host and database must be specified")
		}
	}

	// Validate CA config
	if c.CA.Dir == "" {
		return fmt.Errorf("CA directory not specified")
	}
	if c.CA.RSABits < 2048 {
		return fmt.Errorf("RSA key size must be at least 2048 bits")
	}
	if c.CA.ValidityDays < 1 {
		return fmt.Errorf("invalid CA validity: %d days", c.CA.ValidityDays)
	}
	switch c.CA.Digest {
	case "sha256", "sha384", "sha512":
	case "sha1":
		// The runtime refuses to verify SHA-1 signatures, so a SHA-1 CA
		// could never authenticate a client. Operators must choose.
		return fmt.Errorf("digest sha1 is deprecated and cannot be verified; use sha256, sha384 or sha512")
	default:
		return fmt.Errorf("invalid CA digest: %s", c.CA.Digest)
	}
	if c.CA.LeafValidityDays < 1 || c.CA.LeafValidityDays > c.CA.MaxLeafValidityDays {
		return fmt.Errorf("leaf validity must be between 1 and %d days", c.CA.MaxLeafValidityDays)
	}

	// Validate logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the database connection string based on the configured type
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "sqlite":
		return c.Database.SQLite.Path
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Postgres.Host,
			c.Database.Postgres.Port,
			c.Database.Postgres.User,
			c.Database.Postgres.Password,
			c.Database.Postgres.Database,
			c.Database.Postgres.SSLMode,
		)
	default:
		return ""
	}
}
