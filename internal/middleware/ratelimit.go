package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// LoginRateLimit throttles login attempts per client IP with a Redis fixed window,
// so the limit holds across every server instance. Redis trouble lets requests through.
func LoginRateLimit(limiter *ratelimit.FixedWindow) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := config.CacheKey.LoginRateKey(c.ClientIP(), limiter.Window())
		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("login rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
