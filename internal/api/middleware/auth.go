// Package middleware provides HTTP middleware functions for the galleryauth API server.
// It includes request evaluation, per-route trust tiers, logging, and CORS handling
// that are applied to HTTP requests before they reach the handlers.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/galleryauth/internal/auth"
	"github.com/robcowart/galleryauth/internal/service"
	"go.uber.org/zap"
)

const evaluationKey = "evaluation"

// RequestEvaluator computes the trust state of one request
type RequestEvaluator interface {
	Evaluate(ctx context.Context, req service.RequestContext) (*service.Evaluation, error)
}

// EvaluateRequest evaluates every request once and stores the result in
// the context. The session token comes from the Authorization header and
// the client certificate from the TLS handshake. Neither is required here;
// RequireTier decides what a route needs.
func EvaluateRequest(evaluator RequestEvaluator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := service.RequestContext{
			SessionToken: bearerToken(c.GetHeader("Authorization")),
		}
		if state := c.Request.TLS; state != nil && len(state.PeerCertificates) > 0 {
			req.ClientCertDER = state.PeerCertificates[0].Raw
		}

		ev, err := evaluator.Evaluate(c.Request.Context(), req)
		if err != nil {
			logger.Error("Failed to evaluate request", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to evaluate request"})
			return
		}

		c.Set(evaluationKey, ev)
		if ev.User != nil {
			c.Set("user_id", ev.User.ID)
			c.Set("username", ev.User.Username)
			c.Set("role", ev.User.Role)
		}

		c.Next()
	}
}

// RequireTier rejects requests that may not use a route of the given tier
func RequireTier(tier auth.Level) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := service.Authorize(GetEvaluation(c), tier)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrUnauthenticated):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		case errors.Is(err, service.ErrCertificateTier):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "this action requires a verified client certificate"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

// GetEvaluation returns the request's evaluation, or an unauthenticated
// one when EvaluateRequest did not run
func GetEvaluation(c *gin.Context) *service.Evaluation {
	if v, ok := c.Get(evaluationKey); ok {
		if ev, ok := v.(*service.Evaluation); ok {
			return ev
		}
	}
	return &service.Evaluation{
		State:       service.StateUnauthenticated,
		CertOutcome: service.CertAbsent,
		Principals:  auth.NewPrincipals(),
	}
}

// bearerToken extracts the token from "Bearer <token>". Anything else
// counts as no token.
func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
