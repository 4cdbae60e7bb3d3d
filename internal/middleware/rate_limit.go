package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	pkghttp "github.com/mabini-abc/portal/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Window            time.Duration
}

// DefaultAuthRateLimit returns the rate limit for the public auth endpoints.
// A non-positive requestsPerMinute falls back to 5.
func DefaultAuthRateLimit(requestsPerMinute int) RateLimitConfig {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 5
	}
	return RateLimitConfig{
		RequestsPerMinute: requestsPerMinute,
		Window:            time.Minute,
	}
}

// RateLimitByIP limits requests per client address. The address is resolved
// with the same trusted-proxy rules used for audit metadata.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	window := config.Window
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(
		config.RequestsPerMinute,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteRetryAfter(w, "rate_limited", "Too many requests. Slow down and try again shortly.", window)
		}),
	)
}
