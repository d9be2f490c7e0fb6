package internal

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chatpulse/chatpulse/pkg/auth"
	"github.com/chatpulse/chatpulse/pkg/router"

	ctlAdmin "github.com/chatpulse/chatpulse/internal/admin"
	ctlAuth "github.com/chatpulse/chatpulse/internal/auth"
	ctlIndex "github.com/chatpulse/chatpulse/internal/index"
	ctlMessage "github.com/chatpulse/chatpulse/internal/message"
	ctlSession "github.com/chatpulse/chatpulse/internal/session"
	ctlWebhooks "github.com/chatpulse/chatpulse/internal/webhooks"
)

func Routes(app *fiber.App) {
	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// ============================================================
	// ADMIN ROUTES (X-Admin-Secret authentication)
	// ============================================================
	adminMiddleware := auth.AdminAuth()

	// Admin Dashboard APIs
	app.Get(router.BaseURL+"/admin/stats", adminMiddleware, ctlAdmin.GetStats)
	app.Get(router.BaseURL+"/admin/health", adminMiddleware, ctlAdmin.GetHealth)
	app.Get(router.BaseURL+"/admin/sessions", adminMiddleware, ctlAdmin.ListAllSessions)
	app.Get(router.BaseURL+"/admin/sessions/status", adminMiddleware, ctlAdmin.GetAllSessionsStatus)
	app.Get(router.BaseURL+"/admin/webhooks/stats", adminMiddleware, ctlAdmin.GetWebhookStats)

	// API Key Management
	app.Post(router.BaseURL+"/admin/api-keys", adminMiddleware, ctlAdmin.CreateAPIKey)
	app.Get(router.BaseURL+"/admin/api-keys", adminMiddleware, ctlAdmin.ListAPIKeys)
	app.Delete(router.BaseURL+"/admin/api-keys/:id", adminMiddleware, ctlAdmin.DeleteAPIKey)
	app.Get(router.BaseURL+"/admin/api-keys/:id/sessions", adminMiddleware, ctlAdmin.ListSessionsByAPIKey)
	app.Delete(router.BaseURL+"/admin/sessions/:session_id", adminMiddleware, ctlAdmin.DeleteSession)

	// ============================================================
	// SESSION CREATION (X-API-Key authentication)
	// ============================================================
	apiKeyMiddleware := auth.APIKeyAuth()
	app.Post(router.BaseURL+"/sessions", apiKeyMiddleware, ctlAuth.CreateSession)

	// ============================================================
	// TOKEN REGENERATION (No auth - uses session credentials in body)
	// ============================================================
	app.Post(router.BaseURL+"/sessions/token", ctlAuth.RegenerateToken)

	// ============================================================
	// SESSION OPERATIONS (JWT Bearer token authentication)
	// ============================================================
	sessionAuthMiddleware := auth.SessionAuth()

	// Session management
	app.Get(router.BaseURL+"/sessions/me", sessionAuthMiddleware, ctlSession.GetSessionMe)
	app.Get(router.BaseURL+"/sessions/me/status", sessionAuthMiddleware, ctlSession.GetStatus)
	app.Post(router.BaseURL+"/sessions/me/login", sessionAuthMiddleware, ctlSession.Login)
	app.Post(router.BaseURL+"/sessions/me/pair", sessionAuthMiddleware, ctlSession.ResolvePair)
	app.Post(router.BaseURL+"/sessions/me/reconnect", sessionAuthMiddleware, ctlSession.Reconnect)
	app.Delete(router.BaseURL+"/sessions/me/session", sessionAuthMiddleware, ctlSession.Logout)

	// Messaging routes
	app.Post(router.BaseURL+"/messages", sessionAuthMiddleware, ctlMessage.SendText)
	app.Post(router.BaseURL+"/messages/reaction", sessionAuthMiddleware, ctlMessage.SendReaction)

	// Webhook management routes
	app.Get(router.BaseURL+"/webhooks", sessionAuthMiddleware, ctlWebhooks.ListWebhooks)
	app.Post(router.BaseURL+"/webhooks", sessionAuthMiddleware, ctlWebhooks.CreateWebhook)
	app.Get(router.BaseURL+"/webhooks/:webhook_id", sessionAuthMiddleware, ctlWebhooks.GetWebhook)
	app.Put(router.BaseURL+"/webhooks/:webhook_id", sessionAuthMiddleware, ctlWebhooks.UpdateWebhook)
	app.Delete(router.BaseURL+"/webhooks/:webhook_id", sessionAuthMiddleware, ctlWebhooks.DeleteWebhook)
	app.Get(router.BaseURL+"/webhooks/:webhook_id/logs", sessionAuthMiddleware, ctlWebhooks.GetWebhookLogs)
	app.Post(router.BaseURL+"/webhooks/:webhook_id/test", sessionAuthMiddleware, ctlWebhooks.TestWebhook)
}
