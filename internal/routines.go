package internal

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/chatpulse/chatpulse/internal/registry"
	"github.com/chatpulse/chatpulse/pkg/chatpulse"
	"github.com/chatpulse/chatpulse/pkg/hub"
	"github.com/chatpulse/chatpulse/pkg/log"
)

// Routines registers the recurring maintenance jobs: a session health
// sweep keeping the registry status in line with the live state machines,
// and a daily prune of credentials past their inactivity TTL.
func Routines(c *cron.Cron) {
	log.Print(nil).Info("Running Routine Tasks")

	if isHealthCheckEnabled() {
		_, err := c.AddFunc("0 */5 * * * *", func() {
			if hub.SessionsLen() == 0 {
				return
			}
			hub.RangeSessions(func(sessionID string, client *chatpulse.Client) {
				snap := client.Snapshot()
				switch snap.State {
				case "ready":
					log.Session(sessionID).Info("Session healthy")
					_ = registry.UpdateSessionStatus(context.Background(), sessionID, "active")
				case "closed":
					_ = registry.UpdateSessionStatus(context.Background(), sessionID, "closed")
				case "degraded", "reconnecting", "disconnected":
					log.Session(sessionID).
						WithField("state", snap.State).
						WithField("reconnect_attempts", snap.ReconnectAttempts).
						Warn("Session unhealthy")
					_ = registry.UpdateSessionStatus(context.Background(), sessionID, "disconnected")
				}
			})
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on lifecycle event handlers")
	}

	spec := getCredentialSweepCronSpec()
	_, err := c.AddFunc(spec, func() {
		removed := hub.SweepExpiredCredentials(context.Background())
		if removed > 0 {
			log.Print(nil).WithField("removed", removed).Info("Credential sweep completed")
		}
	})
	if err != nil {
		log.Print(nil).WithField("error", err.Error()).Error("Failed to add credential sweep cron job")
	}

	c.Start()
}

func isHealthCheckEnabled() bool {
	envValue, ok := os.LookupEnv("CHATPULSE_ENABLE_HEALTH_CHECK_CRON")
	if !ok {
		// Default to true so datastore status tracks actual session state.
		return true
	}
	enabled, err := strconv.ParseBool(envValue)
	if err != nil {
		log.Print(nil).Warn("Invalid CHATPULSE_ENABLE_HEALTH_CHECK_CRON value; defaulting to enabled")
		return true
	}
	return enabled
}

func getCredentialSweepCronSpec() string {
	// robfig/cron with seconds field (6 parts). Default: daily at 04:00:00.
	spec := strings.TrimSpace(os.Getenv("CHATPULSE_CREDENTIAL_SWEEP_CRON_SPEC"))
	if spec == "" {
		return "0 0 4 * * *"
	}
	return spec
}
