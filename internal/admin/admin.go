package admin

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/chatpulse/chatpulse/internal/registry"
	"github.com/chatpulse/chatpulse/pkg/chatpulse"
	"github.com/chatpulse/chatpulse/pkg/hub"
	"github.com/chatpulse/chatpulse/pkg/router"
)

// Request types for admin endpoints
type CreateAPIKeyRequest struct {
	CustomerName  string `json:"customer_name" form:"customer_name"`
	CustomerEmail string `json:"customer_email" form:"customer_email"`
	MaxSessions   int    `json:"max_sessions" form:"max_sessions"`
	RateLimit     int    `json:"rate_limit_per_hour" form:"rate_limit_per_hour"`
}

func parseAPIKeyID(idStr string) (int64, error) {
	return strconv.ParseInt(idStr, 10, 64)
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// CreateAPIKey creates a new API key for a customer.
func CreateAPIKey(c *fiber.Ctx) error {
	ctx := requestContext(c)

	var req CreateAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if req.CustomerName == "" {
		return router.ResponseBadRequest(c, "customer_name is required")
	}
	if req.MaxSessions <= 0 {
		req.MaxSessions = 5
	}
	if req.RateLimit <= 0 {
		req.RateLimit = 1000
	}

	apiKey, err := registry.CreateAPIKey(ctx, req.CustomerName, req.CustomerEmail, req.MaxSessions, req.RateLimit)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to create API key: "+err.Error())
	}

	return router.ResponseCreatedWithData(c, "API key created successfully", apiKey)
}

// ListAPIKeys lists all API keys with masked key strings.
func ListAPIKeys(c *fiber.Ctx) error {
	ctx := requestContext(c)

	apiKeys, err := registry.ListAPIKeys(ctx)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to list API keys: "+err.Error())
	}

	type MaskedAPIKey struct {
		ID               int64  `json:"id"`
		APIKeyMasked     string `json:"api_key_masked"`
		CustomerName     string `json:"customer_name"`
		CustomerEmail    string `json:"customer_email"`
		MaxSessions      int    `json:"max_sessions"`
		RateLimitPerHour int    `json:"rate_limit_per_hour"`
		IsActive         bool   `json:"is_active"`
		SessionCount     int    `json:"session_count"`
	}

	var masked []MaskedAPIKey
	for _, ak := range apiKeys {
		sessionCount, _ := registry.CountSessionsByAPIKey(ctx, ak.ID)
		maskedKey := ak.APIKey[:8] + "..." + ak.APIKey[len(ak.APIKey)-4:]
		masked = append(masked, MaskedAPIKey{
			ID:               ak.ID,
			APIKeyMasked:     maskedKey,
			CustomerName:     ak.CustomerName,
			CustomerEmail:    ak.CustomerEmail,
			MaxSessions:      ak.MaxSessions,
			RateLimitPerHour: ak.RateLimitPerHour,
			IsActive:         ak.IsActive,
			SessionCount:     sessionCount,
		})
	}

	return router.ResponseSuccessWithData(c, "API keys retrieved successfully", masked)
}

// DeleteAPIKey deletes an API key and all its sessions.
func DeleteAPIKey(c *fiber.Ctx) error {
	ctx := requestContext(c)

	id, err := parseAPIKeyID(c.Params("id"))
	if err != nil {
		return router.ResponseBadRequest(c, "Invalid API key ID")
	}

	sessions, err := registry.ListSessionsByAPIKey(ctx, id)
	if err == nil {
		for _, s := range sessions {
			hub.Shutdown(s.SessionID)
		}
	}

	if err := registry.DeleteAPIKey(ctx, id); err != nil {
		return router.ResponseInternalError(c, "Failed to delete API key: "+err.Error())
	}

	return router.ResponseSuccess(c, "API key deleted successfully")
}

// ListSessionsByAPIKey lists all sessions registered under an API key.
func ListSessionsByAPIKey(c *fiber.Ctx) error {
	ctx := requestContext(c)

	id, err := parseAPIKeyID(c.Params("id"))
	if err != nil {
		return router.ResponseBadRequest(c, "Invalid API key ID")
	}

	sessions, err := registry.ListSessionsByAPIKey(ctx, id)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to list sessions: "+err.Error())
	}

	return router.ResponseSuccessWithData(c, "Sessions retrieved successfully", sessions)
}

// ListAllSessions lists every registered session with customer info.
func ListAllSessions(c *fiber.Ctx) error {
	ctx := requestContext(c)

	sessions, err := registry.ListAllSessions(ctx)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to list sessions: "+err.Error())
	}

	return router.ResponseSuccessWithData(c, "Sessions retrieved successfully", sessions)
}

// GetAllSessionsStatus reports the live snapshot of every in-memory session.
func GetAllSessionsStatus(c *fiber.Ctx) error {
	snapshots := make([]chatpulse.Snapshot, 0, hub.SessionsLen())
	hub.RangeSessions(func(sessionID string, client *chatpulse.Client) {
		snapshots = append(snapshots, client.Snapshot())
	})

	return router.ResponseSuccessWithData(c, "Live session status", snapshots)
}

// DeleteSession shuts a session down and removes its registry row.
func DeleteSession(c *fiber.Ctx) error {
	ctx := requestContext(c)

	sessionID := c.Params("session_id")
	if sessionID == "" {
		return router.ResponseBadRequest(c, "session_id is required")
	}

	hub.Shutdown(sessionID)

	if err := registry.DeleteSession(ctx, sessionID); err != nil {
		return router.ResponseInternalError(c, "Failed to delete session: "+err.Error())
	}

	return router.ResponseSuccess(c, "Session deleted successfully")
}

// GetStats returns system-wide counters.
func GetStats(c *fiber.Ctx) error {
	ctx := requestContext(c)

	stats, err := registry.GetAdminStats(ctx)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to get stats: "+err.Error())
	}

	return router.ResponseSuccessWithData(c, "Stats retrieved successfully", fiber.Map{
		"registry":      stats,
		"live_sessions": hub.SessionsLen(),
	})
}

// GetHealth reports process health.
func GetHealth(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "Service is healthy", fiber.Map{
		"live_sessions": hub.SessionsLen(),
	})
}

// GetWebhookStats returns webhook delivery counters.
func GetWebhookStats(c *fiber.Ctx) error {
	ctx := requestContext(c)

	stats, err := registry.GetWebhookStats(ctx)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to get webhook stats: "+err.Error())
	}

	return router.ResponseSuccessWithData(c, "Webhook stats retrieved successfully", stats)
}
