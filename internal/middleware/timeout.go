package middleware

import (
	"net/http"
	"time"
)

// DefaultRequestTimeout is the default request timeout
const DefaultRequestTimeout = 30 * time.Second

// Timeout enforces a deadline on request handlers. AI planning turns can be
// slow, so the server passes a longer value for the chat routes.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"success":false,"error":"Request Timeout"}`)
	}
}
