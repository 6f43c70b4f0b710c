package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/go-chi/httprate"
)

const rateLimitBody = `{"success":false,"message":"Too many requests, please try again later"}`

type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit is applied to signup and login.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10}
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(rateLimitBody))
}

// RateLimitByIP limits unauthenticated endpoints per client IP.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByUser limits authenticated endpoints per user, falling back to
// the client IP when the request carries no identity.
func RateLimitByUser(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := auth.GetIdentity(r); id != nil {
				return "user:" + id.UserID, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}
