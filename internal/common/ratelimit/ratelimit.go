// Package ratelimit implements a single process-wide token bucket for
// the API_RATE_LIMIT setting, applied at the gin middleware layer.
package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/carboon/gameplatform/internal/common/envelope"
)

// Middleware returns a gin.HandlerFunc enforcing requestsPerSecond
// with a burst of the whole-number rate plus one, rejecting over-limit requests
// with a 503 (the process is momentarily unable to accept more work,
// not a client error).
func Middleware(requestsPerSecond float64) gin.HandlerFunc {
	if requestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			envelope.Abort(c, http.StatusServiceUnavailable, "rate limit exceeded", nil)
			return
		}
		c.Next()
	}
}
