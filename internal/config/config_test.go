package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		configContent := `
server:
  port: 9000
  host: 127.0.0.1
database:
  type: sqlite
  sqlite:
    path: /tmp/test.db
session:
  secret: test-secret
  expiration: 48h
  issuer: test-gallery
ca:
  dir: /tmp/gallery-ca
  site_title: Test Gallery
  digest: sha512
logging:
  level: debug
  format: console
  output: stdout
`
		err := os.WriteFile(configPath, []byte(configContent), 0644)
		require.NoError(t, err)

		cfg, err := Load(configPath, nil)
		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, "sqlite", cfg.Database.Type)
		assert.Equal(t, "test-secret", cfg.Session.Secret)
		assert.Equal(t, 48*time.Hour, cfg.Session.Expiration)
		assert.Equal(t, "/tmp/gallery-ca", cfg.CA.Dir)
		assert.Equal(t, "Test Gallery", cfg.CA.SiteTitle)
		assert.Equal(t, "sha512", cfg.CA.Digest)
		// Unset keys keep their defaults
		assert.Equal(t, 2048, cfg.CA.RSABits)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("Load with non-existent file uses defaults", func(t *testing.T) {
		cfg, err := Load("/non/existent/path.yaml", nil)
		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	})

	t.Run("Load with invalid YAML fails", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		err := os.WriteFile(configPath, []byte(`invalid: yaml: content:`), 0644)
		require.NoError(t, err)

		_, err = Load(configPath, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("Load with invalid config values fails validation", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		configContent := `
server:
  port: 70000
`
		err := os.WriteFile(configPath, []byte(configContent), 0644)
		require.NoError(t, err)

		_, err = Load(configPath, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("Flags take priority over environment", func(t *testing.T) {
		t.Setenv("GALLERYAUTH_SERVER_PORT", "9090")

		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		flags, err := parseFlags(fs, []string{"--server.port", "9443", "--ca.dir", "/srv/ca"})
		require.NoError(t, err)

		cfg, err := Load("/non/existent/path.yaml", flags)
		require.NoError(t, err)
		assert.Equal(t, 9443, cfg.Server.Port)
		assert.Equal(t, "/srv/ca", cfg.CA.Dir)
	})

	t.Run("Bad duration flag is rejected", func(t *testing.T) {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		flags, err := parseFlags(fs, []string{"--session.expiration", "forever"})
		require.NoError(t, err)

		_, err = Load("/non/existent/path.yaml", flags)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid flag value")
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Run("Default config has sensible values", func(t *testing.T) {
		cfg := defaultConfig()
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.False(t, cfg.Server.TLSEnabled)

		assert.Equal(t, "sqlite", cfg.Database.Type)
		assert.Equal(t, "./data/galleryauth.db", cfg.Database.SQLite.Path)

		assert.Equal(t, 24*time.Hour, cfg.Session.Expiration)
		assert.Equal(t, "galleryauth", cfg.Session.Issuer)

		assert.Equal(t, "./data/ca", cfg.CA.Dir)
		assert.Equal(t, 2048, cfg.CA.RSABits)
		assert.Equal(t, 3653, cfg.CA.ValidityDays)
		assert.Equal(t, "sha256", cfg.CA.Digest)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "json", cfg.Logging.Format)

		assert.True(t, cfg.Security.CORSEnabled)
		assert.NoError(t, cfg.Validate())
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Run("Override server port", func(t *testing.T) {
		os.Setenv("GALLERYAUTH_SERVER_PORT", "9090")
		defer os.Unsetenv("GALLERYAUTH_SERVER_PORT")

		cfg := defaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 9090, cfg.Server.Port)
	})

	t.Run("Invalid port is ignored", func(t *testing.T) {
		os.Setenv("GALLERYAUTH_SERVER_PORT", "not-a-number")
		defer os.Unsetenv("GALLERYAUTH_SERVER_PORT")

		cfg := defaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 8000, cfg.Server.Port)
	})

	t.Run("Override database settings", func(t *testing.T) {
		t.Setenv("GALLERYAUTH_DB_TYPE", "postgres")
		t.Setenv("GALLERYAUTH_DB_POSTGRES_HOST", "db.internal")
		t.Setenv("GALLERYAUTH_DB_POSTGRES_PORT", "6543")
		t.Setenv("GALLERYAUTH_DB_POSTGRES_DATABASE", "gallery")

		cfg := defaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "postgres", cfg.Database.Type)
		assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
		assert.Equal(t, 6543, cfg.Database.Postgres.Port)
		assert.Equal(t, "gallery", cfg.Database.Postgres.Database)
	})

	t.Run("Override session and CA", func(t *testing.T) {
		t.Setenv("GALLERYAUTH_SESSION_SECRET", "env-secret")
		t.Setenv("GALLERYAUTH_CA_DIR", "/var/lib/gallery/ca")
		t.Setenv("GALLERYAUTH_CA_SITE_TITLE", "Furry Gallery")

		cfg := defaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "env-secret", cfg.Session.Secret)
		assert.Equal(t, "/var/lib/gallery/ca", cfg.CA.Dir)
		assert.Equal(t, "Furry Gallery", cfg.CA.SiteTitle)
	})

	t.Run("Override log level", func(t *testing.T) {
		t.Setenv("GALLERYAUTH_LOG_LEVEL", "debug")

		cfg := defaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"tls without cert", func(c *Config) { c.Server.TLSEnabled = true }, "TLS enabled"},
		{"unknown database", func(c *Config) { c.Database.Type = "mysql" }, "invalid database type"},
		{"empty sqlite path", func(c *Config) { c.Database.SQLite.Path = "" }, "SQLite path"},
		{"postgres without host", func(c *Config) { c.Database.Type = "postgres" }, "PostgreSQL host"},
		{"empty CA dir", func(c *Config) { c.CA.Dir = "" }, "CA directory"},
		{"weak RSA", func(c *Config) { c.CA.RSABits = 1024 }, "at least 2048 bits"},
		{"zero CA validity", func(c *Config) { c.CA.ValidityDays = 0 }, "invalid CA validity"},
		{"sha1 digest", func(c *Config) { c.CA.Digest = "sha1" }, "deprecated"},
		{"unknown digest", func(c *Config) { c.CA.Digest = "md5" }, "invalid CA digest"},
		{"leaf validity above max", func(c *Config) { c.CA.LeafValidityDays = c.CA.MaxLeafValidityDays + 1 }, "leaf validity"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	t.Run("SQLite DSN", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Database.SQLite.Path = "/tmp/test.db"
		assert.Equal(t, "/tmp/test.db", cfg.GetDSN())
	})

	t.Run("PostgreSQL DSN", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Database.Type = "postgres"
		cfg.Database.Postgres.Host = "localhost"
		cfg.Database.Postgres.User = "gallery"
		cfg.Database.Postgres.Password = "pw"
		cfg.Database.Postgres.Database = "galleryauth"

		dsn := cfg.GetDSN()
		assert.Contains(t, dsn, "host=localhost")
		assert.Contains(t, dsn, "port=5432")
		assert.Contains(t, dsn, "dbname=galleryauth")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("Unknown type yields empty DSN", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Database.Type = "oracle"
		assert.Empty(t, cfg.GetDSN())
	})
}
