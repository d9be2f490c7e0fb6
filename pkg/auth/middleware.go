package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/chatpulse/chatpulse/internal/registry"
	"github.com/chatpulse/chatpulse/pkg/router"
)

// AdminAuth validates the X-Admin-Secret header for admin endpoints
func AdminAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		adminSecret := c.Get("X-Admin-Secret")
		if adminSecret == "" {
			return router.ResponseUnauthorized(c, "Missing X-Admin-Secret header")
		}

		if AdminSecretKey == "" {
			return router.ResponseInternalError(c, "Admin secret key not configured")
		}

		if subtle.ConstantTimeCompare([]byte(adminSecret), []byte(AdminSecretKey)) != 1 {
			return router.ResponseUnauthorized(c, "Invalid admin secret")
		}

		return c.Next()
	}
}

// APIKeyAuth validates the X-API-Key header and stores API key context
func APIKeyAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			return router.ResponseUnauthorized(c, "Missing X-API-Key header")
		}

		ctx := c.UserContext()
		if ctx == nil {
			ctx = context.Background()
		}

		apiKeyRecord, err := registry.GetAPIKeyByKey(ctx, apiKey)
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid API key")
		}

		if !apiKeyRecord.IsActive {
			return router.ResponseUnauthorized(c, "API key is inactive")
		}

		c.Locals("api_key", apiKeyRecord)
		c.Locals("api_key_id", apiKeyRecord.ID)

		return c.Next()
	}
}

// SessionAuth validates the JWT token from the Authorization header.
// Token format: "Bearer <jwt_token>". Validation is stateless except for the
// JWT version check, which allows immediate token revocation.
func SessionAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return router.ResponseUnauthorized(c, "Missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format. Use: Bearer <token>")
		}

		tokenString := parts[1]
		if tokenString == "" {
			return router.ResponseUnauthorized(c, "Missing token")
		}

		claims, err := ValidateSessionToken(tokenString)
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}

		ctx := c.UserContext()
		if ctx == nil {
			ctx = context.Background()
		}
		currentVersion, err := registry.GetSessionJWTVersion(ctx, claims.SessionID)
		if err != nil {
			return router.ResponseUnauthorized(c, "Session not found")
		}
		if claims.JWTVersion != currentVersion {
			return router.ResponseUnauthorized(c, "Token has been revoked. Please regenerate a new token.")
		}

		c.Locals("session_id", claims.SessionID)
		c.Locals("api_key_id", claims.APIKeyID)
		c.Locals("jwt_version", claims.JWTVersion)

		return c.Next()
	}
}
