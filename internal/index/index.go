package index

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chatpulse/chatpulse/pkg/router"
)

// Index reports that the server is up.
func Index(c *fiber.Ctx) error {
	return router.ResponseSuccess(c, "ChatPulse Multi-Session REST is running")
}
