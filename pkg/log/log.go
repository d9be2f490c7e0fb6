package log

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
		DisableColors:   false,
		ForceColors:     true,
	}
}

// Print returns a log entry enriched with HTTP request fields when a fiber
// context is available. Pass nil outside of request handling.
func Print(c *fiber.Ctx) *logrus.Entry {
	if c == nil {
		return logger.WithFields(logrus.Fields{})
	}

	remoteIP := c.IP()
	if v := c.Locals("remote_ip"); v != nil {
		if ip, ok := v.(string); ok && ip != "" {
			remoteIP = ip
		}
	}
	return logger.WithFields(logrus.Fields{
		"remote_ip": remoteIP,
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	})
}

// Session returns a log entry scoped to one session. The core packages log
// through this so every line carries the session identifier.
func Session(sessionID string) *logrus.Entry {
	return logger.WithField("session_id", sessionID)
}

// SessionOp logs a session operation triggered over the REST surface.
func SessionOp(sessionID string, op string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"op":         op,
	})
}

// SysErr logs a background subsystem error with a short component tag.
func SysErr(component string, err error) {
	logger.WithField("component", component).WithError(err).Error("subsystem error")
}
