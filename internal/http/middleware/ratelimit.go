package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Jeazzzy/UWantIt/internal/ratelimit"
)

// KeyFunc selects the identity used to key a rate-limit bucket.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP prefers the owner set by Owner() and falls back to the client
// IP. Keys are prefixed so the two namespaces never collide.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if owner, ok := OwnerFrom(c); ok {
			return "user:" + strconv.FormatInt(int64(owner), 10)
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimit enforces lim per key. Rejected requests get 429 with the standard
// error envelope and a Retry-After header.
func RateLimit(lim *ratelimit.Limiter, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim.Allow(key(c)) {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}
