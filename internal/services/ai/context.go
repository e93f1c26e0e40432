package ai

import "context"

// Context key types for logging (to avoid collisions with string keys)
type contextKey string

const (
	userIDContextKey    contextKey = "user_id"
	projectIDContextKey contextKey = "project_id"
	requestIDContextKey contextKey = "request_id"
)

// WithUserID annotates ctx with the acting user for LLM request logs
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// WithProjectID annotates ctx with the project being planned
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDContextKey, projectID)
}

// WithRequestID annotates ctx with the HTTP request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
	}
	return ""
}

// ExtractRequestID extracts a request ID from context if available
func ExtractRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDContextKey)
}

// ExtractUserID extracts a user ID from context if available
func ExtractUserID(ctx context.Context) string {
	return stringValue(ctx, userIDContextKey)
}

// ExtractProjectID extracts a project ID from context if available
func ExtractProjectID(ctx context.Context) string {
	return stringValue(ctx, projectIDContextKey)
}
