// Package request carries per-request values shared by middleware and handlers.
package request

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/benvon/visionpath/internal/models"
)

type userKey struct{}

// WithUser returns a context acting as user
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// User returns the acting user of ctx, or nil
func User(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey{}).(*models.User)
	return u
}

// UserFromContext returns the acting user of r, or nil
func UserFromContext(r *http.Request) *models.User {
	return User(r.Context())
}

// ClientIP returns the caller's address for rate limiting and audit logs: the
// first X-Forwarded-For hop, then X-Real-IP, then the connection's host
// without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
