package config

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// Flags holds all command line flag values
type Flags struct {
	fs *flag.FlagSet

	// General
	configFile *string
	version    *bool

	// Server
	serverPort         *int
	serverHost         *string
	serverReadTimeout  *string
	serverWriteTimeout *string
	serverTLSEnabled   *bool
	serverTLSCert      *string
	serverTLSKey       *string

	// Database
	dbType             *string
	dbSQLitePath       *string
	dbPostgresHost     *string
	dbPostgresPort     *int
	dbPostgresDatabase *string
	dbPostgresUser     *string
	dbPostgresPassword *string
	dbPostgresSSLMode  *string

	// Session
	sessionSecret     *string
	sessionExpiration *string

	// CA
	caDir              *string
	caSiteTitle        *string
	caDigest           *string
	caLeafValidityDays *int

	// Identity
	personaVerifierURL *string
	openIDVerifierURL  *string

	// Logging
	logLevel  *string
	logFormat *string
	logOutput *string

	// Security
	securityCORSEnabled *bool
	securityCORSOrigins *[]string
}

// ParseFlags defines and parses all command line flags
func ParseFlags() (*Flags, string, bool) {
	f, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		// CommandLine exits on error; this is unreachable in practice.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return f, *f.configFile, *f.version
}

func parseFlags(fs *flag.FlagSet, args []string) (*Flags, error) {
	f := &Flags{fs: fs}

	// General flags
	f.configFile = fs.StringP("config", "c", "config.yaml", "Path to configuration file")
	f.version = fs.BoolP("version", "v", false, "Print version and exit")

	// Server flags
	f.serverPort = fs.Int("server.port", 0, "HTTP server port")
	f.serverHost = fs.String("server.host", "", "HTTP server bind address")
	f.serverReadTimeout = fs.String("server.read-timeout", "", "Server read timeout (e.g., 30s)")
	f.serverWriteTimeout = fs.String("server.write-timeout", "", "Server write timeout (e.g., 30s)")
	f.serverTLSEnabled = fs.Bool("server.tls-enabled", false, "Enable HTTPS and request client certificates")
	f.serverTLSCert = fs.String("server.tls-cert", "", "Path to TLS certificate")
	f.serverTLSKey = fs.String("server.tls-key", "", "Path to TLS key")

	// Database flags
	f.dbType = fs.String("db.type", "", "Database type (sqlite or postgres)")
	f.dbSQLitePath = fs.String("db.sqlite.path", "", "SQLite database file path")
	f.dbPostgresHost = fs.String("db.postgres.host", "", "PostgreSQL host")
	f.dbPostgresPort = fs.Int("db.postgres.port", 0, "PostgreSQL port")
	f.dbPostgresDatabase = fs.String("db.postgres.database", "", "PostgreSQL database name")
	f.dbPostgresUser = fs.String("db.postgres.user", "", "PostgreSQL user")
	f.dbPostgresPassword = fs.String("db.postgres.password", "", "PostgreSQL password")
	f.dbPostgresSSLMode = fs.String("db.postgres.ssl-mode", "", "PostgreSQL SSL mode")

	// Session flags
	f.sessionSecret = fs.String("session.secret", "", "Session token signing secret")
	f.sessionExpiration = fs.String("session.expiration", "", "Session lifetime (e.g., 24h)")

	// CA flags
	f.caDir = fs.String("ca.dir", "", "Directory holding ca.pem and ca.key")
	f.caSiteTitle = fs.String("ca.site-title", "", "Site title used in the CA subject")
	f.caDigest = fs.String("ca.digest", "", "Signature digest (sha256, sha384, sha512)")
	f.caLeafValidityDays = fs.Int("ca.leaf-validity-days", 0, "Default client certificate validity in days")

	// Identity flags
	f.personaVerifierURL = fs.String("identity.persona-verifier-url", "", "Persona assertion verification endpoint")
	f.openIDVerifierURL = fs.String("identity.openid-verifier-url", "", "OpenID assertion verification endpoint")

	// Logging flags
	f.logLevel = fs.StringP("log.level", "l", "", "Log level (debug, info, warn, error)")
	f.logFormat = fs.String("log.format", "", "Log format (json or console)")
	f.logOutput = fs.String("log.output", "", "Log output (stdout or file path)")

	// Security flags
	f.securityCORSEnabled = fs.Bool("security.cors-enabled", false, "Enable CORS")
	f.securityCORSOrigins = fs.StringSlice("security.cors-origins", nil, "CORS allowed origins (can be specified multiple times)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "galleryauth - client certificate authentication backend\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration priority (highest to lowest):\n")
		fmt.Fprintf(os.Stderr, "  1. Command line flags\n")
		fmt.Fprintf(os.Stderr, "  2. Environment variables (GALLERYAUTH_*)\n")
		fmt.Fprintf(os.Stderr, "  3. Configuration file (default: config.yaml)\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  # Keep the CA outside the data directory\n")
		fmt.Fprintf(os.Stderr, "  %s --ca.dir /etc/galleryauth/ca\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Serve HTTPS and request client certificates\n")
		fmt.Fprintf(os.Stderr, "  %s --server.tls-enabled --server.tls-cert site.pem --server.tls-key site.key\n\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *Flags) changed(name string) bool {
	fl := f.fs.Lookup(name)
	return fl != nil && fl.Changed
}

// GetServerPort returns the server port flag value and whether it was set
func (f *Flags) GetServerPort() (int, bool) {
	return *f.serverPort, f.changed("server.port")
}

// GetServerHost returns the server host flag value and whether it was set
func (f *Flags) GetServerHost() (string, bool) {
	return *f.serverHost, f.changed("server.host")
}

// GetServerReadTimeout returns the server read timeout flag value and whether it was set
func (f *Flags) GetServerReadTimeout() (string, bool) {
	return *f.serverReadTimeout, f.changed("server.read-timeout")
}

// GetServerWriteTimeout returns the server write timeout flag value and whether it was set
func (f *Flags) GetServerWriteTimeout() (string, bool) {
	return *f.serverWriteTimeout, f.changed("server.write-timeout")
}

// GetServerTLSEnabled returns the server TLS enabled flag value and whether it was set
func (f *Flags) GetServerTLSEnabled() (bool, bool) {
	return *f.serverTLSEnabled, f.changed("server.tls-enabled")
}

// GetServerTLSCert returns the server TLS cert flag value and whether it was set
func (f *Flags) GetServerTLSCert() (string, bool) {
	return *f.serverTLSCert, f.changed("server.tls-cert")
}

// GetServerTLSKey returns the server TLS key flag value and whether it was set
func (f *Flags) GetServerTLSKey() (string, bool) {
	return *f.serverTLSKey, f.changed("server.tls-key")
}

// GetDBType returns the database type flag value and whether it was set
func (f *Flags) GetDBType() (string, bool) {
	return *f.dbType, f.changed("db.type")
}

// GetDBSQLitePath returns the SQLite path flag value and whether it was set
func (f *Flags) GetDBSQLitePath() (string, bool) {
	return *f.dbSQLitePath, f.changed("db.sqlite.path")
}

// GetDBPostgresHost returns the PostgreSQL host flag value and whether it was set
func (f *Flags) GetDBPostgresHost() (string, bool) {
	return *f.dbPostgresHost, f.changed("db.postgres.host")
}

// GetDBPostgresPort returns the PostgreSQL port flag value and whether it was set
func (f *Flags) GetDBPostgresPort() (int, bool) {
	return *f.dbPostgresPort, f.changed("db.postgres.port")
}

// GetDBPostgresDatabase returns the PostgreSQL database flag value and whether it was set
func (f *Flags) GetDBPostgresDatabase() (string, bool) {
	return *f.dbPostgresDatabase, f.changed("db.postgres.database")
}

// GetDBPostgresUser returns the PostgreSQL user flag value and whether it was set
func (f *Flags) GetDBPostgresUser() (string, bool) {
	return *f.dbPostgresUser, f.changed("db.postgres.user")
}

// GetDBPostgresPassword returns the PostgreSQL password flag value and whether it was set
func (f *Flags) GetDBPostgresPassword() (string, bool) {
	return *f.dbPostgresPassword, f.changed("db.postgres.password")
}

// GetDBPostgresSSLMode returns the PostgreSQL SSL mode flag value and whether it was set
func (f *Flags) GetDBPostgresSSLMode() (string, bool) {
	return *f.dbPostgresSSLMode, f.changed("db.postgres.ssl-mode")
}

// GetSessionSecret returns the session secret flag value and whether it was set
func (f *Flags) GetSessionSecret() (string, bool) {
	return *f.sessionSecret, f.changed("session.secret")
}

// GetSessionExpiration returns the session expiration flag value and whether it was set
func (f *Flags) GetSessionExpiration() (string, bool) {
	return *f.sessionExpiration, f.changed("session.expiration")
}

// GetCADir returns the CA directory flag value and whether it was set
func (f *Flags) GetCADir() (string, bool) {
	return *f.caDir, f.changed("ca.dir")
}

// GetCASiteTitle returns the CA site title flag value and whether it was set
func (f *Flags) GetCASiteTitle() (string, bool) {
	return *f.caSiteTitle, f.changed("ca.site-title")
}

// GetCADigest returns the CA digest flag value and whether it was set
func (f *Flags) GetCADigest() (string, bool) {
	return *f.caDigest, f.changed("ca.digest")
}

// GetCALeafValidityDays returns the leaf validity flag value and whether it was set
func (f *Flags) GetCALeafValidityDays() (int, bool) {
	return *f.caLeafValidityDays, f.changed("ca.leaf-validity-days")
}

// GetPersonaVerifierURL returns the Persona verifier flag value and whether it was set
func (f *Flags) GetPersonaVerifierURL() (string, bool) {
	return *f.personaVerifierURL, f.changed("identity.persona-verifier-url")
}

// GetOpenIDVerifierURL returns the OpenID verifier flag value and whether it was set
func (f *Flags) GetOpenIDVerifierURL() (string, bool) {
	return *f.openIDVerifierURL, f.changed("identity.openid-verifier-url")
}

// GetLogLevel returns the log level flag value and whether it was set
func (f *Flags) GetLogLevel() (string, bool) {
	return *f.logLevel, f.changed("log.level")
}

// GetLogFormat returns the log format flag value and whether it was set
func (f *Flags) GetLogFormat() (string, bool) {
	return *f.logFormat, f.changed("log.format")
}

// GetLogOutput returns the log output flag value and whether it was set
func (f *Flags) GetLogOutput() (string, bool) {
	return *f.logOutput, f.changed("log.output")
}

// GetSecurityCORSEnabled returns the CORS enabled flag value and whether it was set
func (f *Flags) GetSecurityCORSEnabled() (bool, bool) {
	return *f.securityCORSEnabled, f.changed("security.cors-enabled")
}

// GetSecurityCORSOrigins returns the CORS origins flag value and whether it was set
func (f *Flags) GetSecurityCORSOrigins() ([]string, bool) {
	return *f.securityCORSOrigins, f.changed("security.cors-origins")
}
