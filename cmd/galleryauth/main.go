package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robcowart/galleryauth/internal/api"
	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/config"
	"github.com/robcowart/galleryauth/internal/database"
	"github.com/robcowart/galleryauth/internal/identity"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	flags, configFile, showVersion := config.ParseFlags()

	if showVersion {
		fmt.Printf("galleryauth v%s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting galleryauth",
		zap.String("version", version),
		zap.String("database", cfg.Database.Type),
	)

	db, err := database.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// The CA must be usable before any request is served.
	caService := service.NewCAService(db, cfg, logger)
	if _, err := caService.Bootstrap(cfg.CA.Dir, cfg.CA.SiteTitle); err != nil {
		logger.Fatal("Failed to bootstrap certificate authority", zap.Error(err), zap.String("dir", cfg.CA.Dir))
	}

	sessions := auth.NewSessionManager(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.Expiration)
	openid, persona := initVerifiers(cfg, logger)

	userService := service.NewUserService(db, sessions, openid, persona, logger)
	if err := userService.LoadSessionSecret(context.Background()); err != nil {
		logger.Fatal("Failed to load session secret", zap.Error(err))
	}

	router := api.NewRouter(cfg, &api.Services{
		Users:        userService,
		CA:           caService,
		Certificates: service.NewCertificateService(db, caService, cfg),
		Credentials:  service.NewCredentialService(db, caService.Guard(), logger),
		Policy:       service.NewPolicyService(db, caService, logger),
		Evaluator:    service.NewEvaluator(db, caService, sessions, logger),
		OpenID:       openid,
		Persona:      persona,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Server.TLSEnabled {
		// Client certificates are requested but never required at the
		// handshake; the evaluator decides what a presented certificate proves.
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ClientAuth: tls.RequestClientCert,
		}
	}

	go func() {
		logger.Info("Starting HTTP server",
			zap.String("address", srv.Addr),
			zap.Bool("tls", cfg.Server.TLSEnabled),
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			logger.Warn("TLS is disabled; client certificates cannot be presented")
			err = srv.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// initVerifiers returns a verifier per configured endpoint. Unconfigured
// methods stay nil so the interface value is nil too.
func initVerifiers(cfg *config.Config, logger *zap.Logger) (openid, persona identity.Verifier) {
	if cfg.Identity.OpenIDVerifierURL != "" {
		openid = identity.NewRemoteVerifier(identity.KindOpenID, cfg.Identity.OpenIDVerifierURL, "", cfg.Identity.Timeout)
	} else {
		logger.Info("OpenID login is not configured")
	}
	if cfg.Identity.PersonaVerifierURL != "" {
		persona = identity.NewRemoteVerifier(identity.KindPersona, cfg.Identity.PersonaVerifierURL, cfg.Identity.PersonaAudience, cfg.Identity.Timeout)
	} else {
		logger.Info("Persona login is not configured")
	}
	return openid, persona
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	switch cfg.Logging.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if cfg.Logging.Output != "" && cfg.Logging.Output != "stdout" {
		zapConfig.OutputPaths = []string{cfg.Logging.Output}
	}

	return zapConfig.Build()
}
