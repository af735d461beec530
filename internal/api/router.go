// Package api provides HTTP routing and server configuration for galleryauth.
// It wires together handlers, middleware, and services to create the application's API endpoints.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/galleryauth/internal/api/handlers"
	"github.com/robcowart/galleryauth/internal/api/middleware"
	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/config"
	"github.com/robcowart/galleryauth/internal/identity"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

// Services are the application services behind the API
type Services struct {
	Users        *service.UserService
	CA           *service.CAService
	Certificates *service.CertificateService
	Credentials  *service.CredentialService
	Policy       *service.PolicyService
	Evaluator    *service.Evaluator

	// Either verifier may be nil when that method is not configured.
	OpenID  identity.Verifier
	Persona identity.Verifier
}

// NewRouter creates and configures the HTTP router. Every route declares
// the trust tier it needs; requests are evaluated once up front.
func NewRouter(cfg *config.Config, svc *Services, logger *zap.Logger) *gin.Engine {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.CORSMiddleware(cfg))
	router.Use(middleware.EvaluateRequest(svc.Evaluator, logger))

	// Initialize handlers
	setupHandler := handlers.NewSetupHandler(svc.Users, logger)
	authHandler := handlers.NewAuthHandler(svc.Users, logger)
	caHandler := handlers.NewCAHandler(svc.CA, logger)
	certHandler := handlers.NewCertificateHandler(svc.Certificates, svc.CA, logger)
	identHandler := handlers.NewIdentityHandler(svc.Credentials, svc.OpenID, svc.Persona, logger)
	policyHandler := handlers.NewPolicyHandler(svc.Policy, logger)

	v1 := router.Group("/api/v1")

	public := v1.Group("", middleware.RequireTier(auth.LevelDisabled))
	{
		public.GET("/setup/status", setupHandler.GetStatus)
		public.POST("/setup", setupHandler.PerformSetup)

		public.POST("/auth/login", authHandler.Login)
		public.POST("/auth/login/openid", authHandler.LoginOpenID)
		public.POST("/auth/login/persona", authHandler.LoginPersona)
		public.POST("/auth/login/certificate", authHandler.LoginCertificate)
		public.POST("/auth/register", authHandler.Register)

		public.GET("/ca/certificate", caHandler.DownloadCertificate)
	}

	// Reading account state needs a session
	allowed := v1.Group("", middleware.RequireTier(auth.LevelAllowed))
	{
		allowed.GET("/auth/me", authHandler.GetCurrentUser)

		allowed.GET("/account/certificates", certHandler.ListCertificates)
		allowed.GET("/account/certificates/:serial", certHandler.GetCertificate)
		allowed.GET("/account/certificates/:serial/download", certHandler.DownloadCertificate)

		allowed.GET("/account/openid", identHandler.ListOpenID)
		allowed.GET("/account/persona", identHandler.ListPersona)
	}

	// Changing credentials or the authentication level is sensitive
	sensitive := v1.Group("", middleware.RequireTier(auth.LevelSensitiveRequired))
	{
		sensitive.POST("/account/certificates", certHandler.CreateCertificate)
		sensitive.POST("/account/certificates/generate", certHandler.GenerateCertificate)
		sensitive.PUT("/account/certificates/:serial/revoke", certHandler.RevokeCertificate)

		sensitive.POST("/account/openid", identHandler.AddOpenID)
		sensitive.POST("/account/openid/remove", identHandler.RemoveOpenID)
		sensitive.POST("/account/persona", identHandler.AddPersona)
		sensitive.POST("/account/persona/remove", identHandler.RemovePersona)

		sensitive.GET("/account/authentication", policyHandler.GetAuthentication)
		sensitive.POST("/account/authentication", policyHandler.SetAuthentication)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
