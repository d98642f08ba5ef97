package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// apiRequestLimit is the per-client request budget for the guarded routes.
const apiRequestLimit = 120

// rateLimit limits each client IP to limit requests per window and answers
// excess requests with a JSON 429.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}
