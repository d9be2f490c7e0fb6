package session

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/chatpulse/chatpulse/internal/registry"
	typChatPulse "github.com/chatpulse/chatpulse/internal/types"
	"github.com/chatpulse/chatpulse/pkg/chatpulse"
	"github.com/chatpulse/chatpulse/pkg/chatpulse/pairing"
	"github.com/chatpulse/chatpulse/pkg/hub"
	"github.com/chatpulse/chatpulse/pkg/router"
)

// getSessionContext extracts the session context set by the auth middleware.
func getSessionContext(c *fiber.Ctx) string {
	return c.Locals("session_id").(string)
}

// Login connects the session and returns the pairing QR code. A session with
// stored credentials resumes instead and returns no QR.
func Login(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	sessionID := getSessionContext(c)

	var reqLogin typChatPulse.RequestLogin
	reqLogin.Output = strings.TrimSpace(c.FormValue("output"))
	if len(reqLogin.Output) == 0 {
		reqLogin.Output = "html"
	}

	qrCodeImage, qrCodeTimeout, err := hub.Login(ctx, sessionID)
	if err != nil {
		if errors.Is(err, chatpulse.ErrClosed) {
			return router.ResponseBadRequest(c, "ChatPulse session is closed, reconnect to start a new link")
		}
		return router.ResponseInternalError(c, err.Error())
	}

	if qrCodeImage == "" {
		return router.ResponseSuccess(c, "ChatPulse session is resuming from stored credentials")
	}

	var resLogin typChatPulse.ResponseLogin
	resLogin.QRCode = qrCodeImage
	resLogin.Timeout = qrCodeTimeout

	if reqLogin.Output == "html" {
		htmlContent := `
		<html>
			<head>
				<title>ChatPulse Session Login</title>
				<meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
			</head>
			<body>
				<img src="` + resLogin.QRCode + `" />
				<p>
					<b>QR Code Scan</b>
					<br/>
					Timeout in ` + strconv.Itoa(resLogin.Timeout) + ` Second(s)
				</p>
			</body>
		</html>
		`

		c.Set("Content-Type", "text/html")
		return c.SendString(htmlContent)
	}

	return router.ResponseSuccessWithData(c, "Success Generate QR Code", resLogin)
}

// ResolvePair completes pairing from the peer's scan confirmation.
func ResolvePair(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	sessionID := getSessionContext(c)

	var req typChatPulse.RequestResolvePair
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	err := hub.ResolvePair(ctx, sessionID, pairing.ScanResult{
		ClientID: req.ClientID,
		Ref:      req.Ref,
		PeerKey:  req.PeerKey,
		Nonce:    req.Nonce,
	})
	switch {
	case err == nil:
		return router.ResponseSuccess(c, "Success resolve pairing")
	case errors.Is(err, chatpulse.ErrPairingExpired):
		return router.ResponseBadRequest(c, "Pairing code expired, request a new QR code")
	case errors.Is(err, chatpulse.ErrPairingInvalid):
		return router.ResponseBadRequest(c, "Pairing confirmation is invalid")
	case errors.Is(err, hub.ErrSessionNotFound):
		return router.ResponseNotFound(c, "Session not found")
	default:
		return router.ResponseInternalError(c, err.Error())
	}
}

// GetStatus returns the live snapshot of the session.
func GetStatus(c *fiber.Ctx) error {
	sessionID := getSessionContext(c)

	snapshot, err := hub.Status(sessionID)
	if err != nil {
		if errors.Is(err, hub.ErrSessionNotFound) {
			return router.ResponseNotFound(c, "Session is not initialized")
		}
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Session status", snapshot)
}

// Reconnect re-establishes the session from stored credentials.
func Reconnect(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	sessionID := getSessionContext(c)

	if err := hub.Reconnect(ctx, sessionID); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccess(c, "Success reconnect session")
}

// Logout terminates the session and wipes its stored protocol credentials.
func Logout(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	sessionID := getSessionContext(c)

	if err := hub.Logout(ctx, sessionID); err != nil {
		if errors.Is(err, hub.ErrSessionNotFound) {
			return router.ResponseNotFound(c, "Session is not initialized")
		}
		return router.ResponseInternalError(c, err.Error())
	}

	_ = registry.UpdateSessionStatus(ctx, sessionID, "closed")

	return router.ResponseSuccess(c, "Success logout session")
}

// GetSessionMe returns the registry row for the authenticated session.
func GetSessionMe(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	sessionID := getSessionContext(c)

	session, err := registry.GetSessionByID(ctx, sessionID)
	if err != nil {
		return router.ResponseNotFound(c, "Session not found")
	}

	return router.ResponseSuccessWithData(c, "Success get session details", fiber.Map{
		"session_id":   session.SessionID,
		"session_name": session.SessionName,
		"status":       session.Status,
		"created_at":   session.CreatedAt,
		"last_active":  session.LastActiveAt,
	})
}
