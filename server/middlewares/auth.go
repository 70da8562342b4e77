package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookAuthenticator authenticates inbound push notifications against the
// process-wide shared secret. Evaluated fresh per request; there is no
// session state.
type WebhookAuthenticator interface {
	Middleware() gin.HandlerFunc
}

// WebhookAuthenticatorImpl implements exact-match bearer authentication.
type WebhookAuthenticatorImpl struct {
	logger *zap.Logger
	secret string
}

// NewWebhookAuthenticator creates a webhook authenticator for the given
// secret. The secret is immutable for the process lifetime.
func NewWebhookAuthenticator(logger *zap.Logger, secret string) *WebhookAuthenticatorImpl {
	return &WebhookAuthenticatorImpl{
		logger: logger,
		secret: secret,
	}
}

// Middleware rejects requests whose Authorization header is not an exact
// `Bearer <secret>` match. The request body is never read here, so rejected
// payloads are never parsed. The presented token is never logged.
func (auth *WebhookAuthenticatorImpl) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			auth.logger.Warn("unauthorized push notification attempt",
				zap.String("reason", "missing authorization header"),
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			auth.logger.Warn("unauthorized push notification attempt",
				zap.String("reason", "invalid authorization header format"),
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(auth.secret)) != 1 {
			auth.logger.Warn("unauthorized push notification attempt",
				zap.String("reason", "token mismatch"),
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Next()
	}
}
