package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Health reports "ok" or an error string per dependency. A nil redis client
// is reported as "disabled".
func Health(ctx context.Context, db *sqlx.DB, client *redis.Client) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := map[string]string{"postgres": "ok", "redis": "disabled"}
	healthy := true

	if err := db.PingContext(ctx); err != nil {
		status["postgres"] = err.Error()
		healthy = false
	}
	if client != nil {
		status["redis"] = "ok"
		if err := client.Ping(ctx).Err(); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}
	}
	return status, healthy
}
