package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitKeyPrefix namespaces the per-client counters in Redis.
const RateLimitKeyPrefix = "cvforge:ratelimit:"

// RateCounter is the subset of the Redis client the limiter needs.
type RateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RateLimitMiddleware allows limit requests per client IP in each fixed window.
// A Redis failure lets the request through.
func RateLimitMiddleware(counter RateCounter, scope string, limit int, window time.Duration) gin.HandlerFunc {
	if window < time.Second {
		window = time.Minute
	}
	return func(c *gin.Context) {
		if counter == nil || limit <= 0 {
			c.Next()
			return
		}

		bucket := time.Now().Unix() / int64(window.Seconds())
		key := RateLimitKeyPrefix + scope + ":" + c.ClientIP() + ":" + strconv.FormatInt(bucket, 10)
		count, err := incrWithTTL(c.Request.Context(), counter, key, window)
		if err != nil {
			LoggerFromContext(c).Warn("rate limit counter unavailable", "error", err)
			c.Next()
			return
		}

		if count > int64(limit) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func incrWithTTL(ctx context.Context, client RateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
