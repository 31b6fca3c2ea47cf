package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stampcard/loyalty-api/internal/pkg/logger"
	"github.com/stampcard/loyalty-api/internal/pkg/response"
)

const rateLimitKeyPrefix = "ratelimit:"

// KeyFunc derives the rate limit bucket for a request; "" skips limiting.
type KeyFunc func(r *http.Request) string

// RateLimit is a fixed-window limiter backed by redis INCR/EXPIRE.
// With a nil client it is a pass-through; redis failures fail open.
func RateLimit(client *redis.Client, name string, limit int, window time.Duration, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if client == nil || limit <= 0 {
			return next
		}
		if window < time.Second {
			window = time.Second
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket := keyFn(r)
			if bucket == "" {
				next.ServeHTTP(w, r)
				return
			}

			windowStart := time.Now().Unix() / int64(window.Seconds())
			key := rateLimitKeyPrefix + name + ":" + bucket + ":" + strconv.FormatInt(windowStart, 10)

			count, err := incrWithExpiry(r.Context(), client, key, window)
			if err != nil {
				logger.FromContext(r.Context()).Warn().Err(err).Str("limiter", name).Msg("Rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				response.TooManyRequests(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func incrWithExpiry(ctx context.Context, client *redis.Client, key string, window time.Duration) (int64, error) {
	pipe := client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// UserDeviceKey buckets by authenticated user and the X-Device-ID header.
func UserDeviceKey(r *http.Request) string {
	userID := GetUserID(r.Context())
	if userID == uuid.Nil {
		return ""
	}
	return userID.String() + ":" + r.Header.Get("X-Device-ID")
}
