package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/chatpulse/chatpulse/internal/registry"
	typAuth "github.com/chatpulse/chatpulse/internal/auth/types"
	pkgAuth "github.com/chatpulse/chatpulse/pkg/auth"
	"github.com/chatpulse/chatpulse/pkg/router"
)

// CreateSession registers a new session under the caller's API key and
// returns the session secret plus an initial JWT.
func CreateSession(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	apiKey := c.Locals("api_key").(*registry.APIKey)

	var req typAuth.RequestCreateSession
	_ = c.BodyParser(&req)

	sessionCount, err := registry.CountSessionsByAPIKey(ctx, apiKey.ID)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to check session count")
	}
	if sessionCount >= apiKey.MaxSessions {
		return router.ResponseBadRequest(c, "Session limit reached")
	}

	session, err := registry.CreateSession(ctx, apiKey.ID, req.SessionName)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to create session: "+err.Error())
	}

	token, err := pkgAuth.GenerateSessionToken(session.SessionID, session.APIKeyID, session.JWTVersion)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to generate session token: "+err.Error())
	}

	return router.ResponseCreatedWithData(c, "Session created successfully", typAuth.ResponseSessionCreated{
		SessionID:     session.SessionID,
		SessionSecret: session.SessionSecret,
		SessionName:   session.SessionName,
		Token:         token,
		Message:       "Save the session_secret securely - it's needed to regenerate tokens. Use the token in Authorization header for all API calls.",
	})
}

// RegenerateToken issues a new JWT from session credentials and revokes all
// previously issued tokens for the session.
func RegenerateToken(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	var req typAuth.RequestRegenerateToken
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if req.SessionID == "" || req.SessionSecret == "" {
		return router.ResponseBadRequest(c, "session_id and session_secret are required")
	}

	session, err := registry.ValidateSessionCredentials(ctx, req.SessionID, req.SessionSecret)
	if err != nil {
		return router.ResponseUnauthorized(c, "Invalid session credentials")
	}

	newVersion, err := registry.IncrementSessionJWTVersion(ctx, session.SessionID)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to invalidate old tokens")
	}

	token, err := pkgAuth.GenerateSessionToken(session.SessionID, session.APIKeyID, newVersion)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to generate new token: "+err.Error())
	}

	return router.ResponseSuccessWithData(c, "Token regenerated successfully", typAuth.ResponseTokenRegenerated{
		SessionID: session.SessionID,
		Token:     token,
		Message:   "All previous tokens are now invalid.",
	})
}
