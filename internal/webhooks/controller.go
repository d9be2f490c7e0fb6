package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/chatpulse/chatpulse/internal/webhook"
	"github.com/chatpulse/chatpulse/pkg/hub"
	"github.com/chatpulse/chatpulse/pkg/log"
	"github.com/chatpulse/chatpulse/pkg/router"
	"github.com/chatpulse/chatpulse/pkg/validation"
)

func getSessionContext(c *fiber.Ctx) string {
	return c.Locals("session_id").(string)
}

type createWebhookRequest struct {
	URL    string              `json:"url"`
	Events []webhook.EventType `json:"events"`
}

type updateWebhookRequest struct {
	URL    string              `json:"url"`
	Events []webhook.EventType `json:"events"`
	Active bool                `json:"active"`
}

func ListWebhooks(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)

	engine := hub.GetWebhookEngine()
	if engine == nil {
		return router.ResponseInternalError(c, "webhook engine not initialized")
	}

	webhooks, err := engine.Store().GetAllWebhooks(context.Background(), sessionID)
	if err != nil {
		log.SessionOp(sessionID, "ListWebhooks").WithError(err).Error("Failed to list webhooks")
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "success", map[string]interface{}{"webhooks": webhooks})
}

func GetWebhook(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)
	webhookID, err := c.ParamsInt("webhook_id")
	if err != nil {
		return router.ResponseBadRequest(c, "invalid webhook_id")
	}

	engine := hub.GetWebhookEngine()
	if engine == nil {
		return router.ResponseInternalError(c, "webhook engine not initialized")
	}

	wh, err := engine.Store().GetWebhook(context.Background(), int64(webhookID), sessionID)
	if err != nil {
		return router.ResponseNotFound(c, "webhook not found")
	}

	return router.ResponseSuccessWithData(c, "success", map[string]interface{}{"webhook": wh})
}

func CreateWebhook(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)

	var req createWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "invalid request body")
	}
	if req.URL == "" {
		return router.ResponseBadRequest(c, "url is required")
	}
	if err := validation.ValidateURL(req.URL); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	secretStr := hex.EncodeToString(secret)

	engine := hub.GetWebhookEngine()
	if engine == nil {
		return router.ResponseInternalError(c, "webhook engine not initialized")
	}

	webhookID, err := engine.Store().CreateWebhook(context.Background(), sessionID, req.URL, secretStr, req.Events)
	if err != nil {
		log.SessionOp(sessionID, "CreateWebhook").WithError(err).Error("Failed to create webhook")
		return router.ResponseInternalError(c, err.Error())
	}

	log.SessionOp(sessionID, "CreateWebhook").WithField("webhook_id", webhookID).Info("Webhook created")

	return router.ResponseSuccessWithData(c, "webhook created", map[string]interface{}{"webhook_id": webhookID, "secret": secretStr})
}

func UpdateWebhook(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)
	webhookID, err := c.ParamsInt("webhook_id")
	if err != nil {
		return router.ResponseBadRequest(c, "invalid webhook_id")
	}

	var req updateWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "invalid request body")
	}
	if req.URL == "" {
		return router.ResponseBadRequest(c, "url is required")
	}
	if err := validation.ValidateURL(req.URL); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	engine := hub.GetWebhookEngine()
	if engine == nil {
		return router.ResponseInternalError(c, "webhook engine not initialized")
	}

	wh, err := engine.Store().GetWebhook(context.Background(), int64(webhookID), sessionID)
	if err != nil {
		return router.ResponseNotFound(c, "webhook not found")
	}

	if err := engine.Store().UpdateWebhook(context.Background(), int64(webhookID), sessionID, req.URL, wh.Secret, req.Events, req.Active); err != nil {
		log.SessionOp(sessionID, "UpdateWebhook").WithError(err).Error("Failed to update webhook")
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccess(c, "webhook updated")
}

func DeleteWebhook(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)
	webhookID, err := c.ParamsInt("webhook_id")
	if err != nil {
		return router.ResponseBadRequest(c, "invalid webhook_id")
	}

	engine := hub.GetWebhookEngine()
	if engine == nil {
		return router.ResponseInternalError(c, "webhook engine not initialized")
	}

	if err := engine.Store().DeleteWebhook(context.Background(), int64(webhookID), sessionID); err != nil {
		log.SessionOp(sessionID, "DeleteWebhook").WithError(err).Error("Failed to delete webhook")
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccess(c, "webhook deleted")
}

func GetWebhookLogs(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)
	webhookID, err := c.ParamsInt("webhook_id")
	if err != nil {
		return router.ResponseBadRequest(c, "invalid webhook_id")
	}

	engine := hub.GetWebhookEngine()
	if engine == nil {
		return router.ResponseInternalError(c, "webhook engine not initialized")
	}

	if _, err := engine.Store().GetWebhook(context.Background(), int64(webhookID), sessionID); err != nil {
		return router.ResponseNotFound(c, "webhook not found")
	}

	logs, err := engine.Store().GetDeliveryLogs(context.Background(), int64(webhookID), 100)
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "success", map[string]interface{}{"logs": logs})
}

func TestWebhook(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)
	webhookID, err := c.ParamsInt("webhook_id")
	if err != nil {
		return router.ResponseBadRequest(c, "invalid webhook_id")
	}

	engine := hub.GetWebhookEngine()
	if engine == nil {
		return router.ResponseInternalError(c, "webhook engine not initialized")
	}

	if _, err := engine.Store().GetWebhook(context.Background(), int64(webhookID), sessionID); err != nil {
		return router.ResponseNotFound(c, "webhook not found")
	}

	engine.Dispatch(context.Background(), sessionID, webhook.WebhookEvent{
		EventType: "test.ping",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"message": "test webhook delivery",
		},
	})

	return router.ResponseSuccess(c, "test webhook dispatched")
}
