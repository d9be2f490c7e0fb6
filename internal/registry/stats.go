package registry

import (
	"context"
	"database/sql"
)

// AdminStats is the system-wide counters shown on the admin dashboard.
type AdminStats struct {
	TotalAPIKeys         int `json:"total_api_keys"`
	ActiveAPIKeys        int `json:"active_api_keys"`
	TotalSessions        int `json:"total_sessions"`
	ActiveSessions       int `json:"active_sessions"`
	DisconnectedSessions int `json:"disconnected_sessions"`
	PendingSessions      int `json:"pending_sessions"`
	ClosedSessions       int `json:"closed_sessions"`
	TotalWebhooks        int `json:"total_webhooks"`
	ActiveWebhooks       int `json:"active_webhooks"`
}

// SessionWithCustomer is a session row joined with its customer name for the
// admin listing.
type SessionWithCustomer struct {
	Session
	CustomerName string `json:"customer_name"`
}

// GetAdminStats retrieves system-wide statistics.
func GetAdminStats(ctx context.Context) (*AdminStats, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	stats := &AdminStats{}

	counters := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM cp_api_keys`, &stats.TotalAPIKeys},
		{`SELECT COUNT(*) FROM cp_api_keys WHERE is_active = TRUE`, &stats.ActiveAPIKeys},
		{`SELECT COUNT(*) FROM cp_sessions`, &stats.TotalSessions},
		{`SELECT COUNT(*) FROM cp_sessions WHERE status = 'active'`, &stats.ActiveSessions},
		{`SELECT COUNT(*) FROM cp_sessions WHERE status = 'disconnected'`, &stats.DisconnectedSessions},
		{`SELECT COUNT(*) FROM cp_sessions WHERE status = 'pending'`, &stats.PendingSessions},
		{`SELECT COUNT(*) FROM cp_sessions WHERE status = 'closed'`, &stats.ClosedSessions},
	}
	for _, c := range counters {
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	// Webhook tables may be empty on a fresh install; count failures are not
	// fatal for the dashboard.
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cp_webhooks`).Scan(&stats.TotalWebhooks)
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cp_webhooks WHERE active = TRUE`).Scan(&stats.ActiveWebhooks)

	return stats, nil
}

// ListAllSessions retrieves all sessions across API keys with customer info.
func ListAllSessions(ctx context.Context) ([]SessionWithCustomer, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT s.session_id, s.api_key_id, s.session_name, s.status, s.created_at, s.last_active_at, COALESCE(a.customer_name, '')
		FROM cp_sessions s
		LEFT JOIN cp_api_keys a ON s.api_key_id = a.id
		ORDER BY s.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionWithCustomer
	for rows.Next() {
		var s SessionWithCustomer
		var apiKeyID sql.NullInt64
		var name sql.NullString
		var lastActive sql.NullTime
		if err := rows.Scan(&s.SessionID, &apiKeyID, &name, &s.Status, &s.CreatedAt, &lastActive, &s.CustomerName); err != nil {
			return nil, err
		}
		if apiKeyID.Valid {
			s.APIKeyID = apiKeyID.Int64
		}
		if name.Valid {
			s.SessionName = name.String
		}
		if lastActive.Valid {
			s.LastActiveAt = &lastActive.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetWebhookStats retrieves webhook delivery statistics.
func GetWebhookStats(ctx context.Context) (map[string]interface{}, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}

	stats := make(map[string]interface{})

	var totalWebhooks, activeWebhooks int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cp_webhooks`).Scan(&totalWebhooks)
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cp_webhooks WHERE active = TRUE`).Scan(&activeWebhooks)

	var totalDeliveries, successDeliveries, failedDeliveries int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cp_webhook_deliveries`).Scan(&totalDeliveries)
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cp_webhook_deliveries WHERE status = 'success'`).Scan(&successDeliveries)
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cp_webhook_deliveries WHERE status = 'failed'`).Scan(&failedDeliveries)

	var successRate float64
	if totalDeliveries > 0 {
		successRate = float64(successDeliveries) / float64(totalDeliveries) * 100
	}

	stats["total_webhooks"] = totalWebhooks
	stats["active_webhooks"] = activeWebhooks
	stats["total_deliveries"] = totalDeliveries
	stats["success_deliveries"] = successDeliveries
	stats["failed_deliveries"] = failedDeliveries
	stats["success_rate"] = successRate

	return stats, nil
}
