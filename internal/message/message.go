package message

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	typChatPulse "github.com/chatpulse/chatpulse/internal/types"
	"github.com/chatpulse/chatpulse/pkg/chatpulse"
	"github.com/chatpulse/chatpulse/pkg/hub"
	"github.com/chatpulse/chatpulse/pkg/router"
	"github.com/chatpulse/chatpulse/pkg/validation"
)

func getSessionContext(c *fiber.Ctx) string {
	return c.Locals("session_id").(string)
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func respondSendError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, hub.ErrSessionNotFound):
		return router.ResponseNotFound(c, "Session is not initialized")
	case errors.Is(err, chatpulse.ErrNotPaired):
		return router.ResponseBadRequest(c, "Session is not paired, generate a QR code first")
	case errors.Is(err, chatpulse.ErrSessionExpired):
		return router.ResponseUnauthorized(c, "Stored credentials expired, pair the session again")
	case errors.Is(err, chatpulse.ErrRateLimited):
		return router.ResponseTooManyRequests(c, "Send rate limit exceeded")
	case errors.Is(err, chatpulse.ErrClosed):
		return router.ResponseBadRequest(c, "Session is closed")
	default:
		return router.ResponseInternalError(c, err.Error())
	}
}

// SendText sends a text message to a target identity.
func SendText(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)

	var req typChatPulse.RequestSendMessage
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	req.Target = strings.TrimSpace(req.Target)
	if err := validation.ValidateTarget(req.Target); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if err := validation.ValidateMessageText(req.Text); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	messageID, err := hub.SendText(requestContext(c), sessionID, req.Target, req.Text)
	if err != nil {
		return respondSendError(c, err)
	}

	return router.ResponseSuccessWithData(c, "Success send message", typChatPulse.ResponseSendMessage{
		MessageID: messageID,
	})
}

// SendReaction sends a single-emoji reaction to a previously received
// message.
func SendReaction(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)

	var req typChatPulse.RequestSendReaction
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	req.Target = strings.TrimSpace(req.Target)
	if err := validation.ValidateTarget(req.Target); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if req.MessageID == "" {
		return router.ResponseBadRequest(c, "message_id is required")
	}
	if err := validation.ValidateReactionEmoji(req.Emoji); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	messageID, err := hub.SendReaction(requestContext(c), sessionID, req.Target, req.MessageID, req.Emoji)
	if err != nil {
		return respondSendError(c, err)
	}

	return router.ResponseSuccessWithData(c, "Success send reaction", typChatPulse.ResponseSendMessage{
		MessageID: messageID,
	})
}
