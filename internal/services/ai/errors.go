package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
)

var (
	// ErrRateLimited indicates the API rate limit was exceeded
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExceeded indicates the API quota was exceeded
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInvalidResponse indicates the model reply did not match the expected schema
	ErrInvalidResponse = errors.New("invalid AI response")
	// ErrNoChoices is returned when the API response has no choices
	ErrNoChoices = errors.New("no choices in response")
	// ErrProviderDisabled is returned when no AI provider is configured
	ErrProviderDisabled = errors.New("AI provider is not configured")
)

// APIError is a classified error from the provider API
type APIError struct {
	Message    string
	Type       string
	Code       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// Unwrap maps the API error onto the package sentinels so callers can use errors.Is
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == "insufficient_quota":
		return ErrQuotaExceeded
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}

// IsRateLimitError checks if an error is a transient rate limit error
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsQuotaError checks if an error is a quota exhaustion error
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// ExtractAPIError classifies err. It returns nil when err did not come from the provider API.
func ExtractAPIError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return &APIError{
			Message:    oaErr.Message,
			Type:       oaErr.Type,
			Code:       oaErr.Code,
			StatusCode: oaErr.StatusCode,
		}
	}

	// Some proxies flatten the error into text
	errStr := err.Error()
	if strings.Contains(errStr, "429") {
		out := &APIError{StatusCode: http.StatusTooManyRequests, Message: errStr, Type: "rate_limit_error"}
		if strings.Contains(errStr, "insufficient_quota") {
			out.Code = "insufficient_quota"
		}
		return out
	}
	return nil
}

// UserMessage returns a short message safe to show to end users
func UserMessage(err error) string {
	switch {
	case IsQuotaError(err):
		return "The AI service quota is exhausted. Please try again later."
	case IsRateLimitError(err):
		return "The AI service is busy. Please wait a moment and try again."
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrNoChoices):
		return "The AI returned an unexpected response. Nothing was changed; please try again."
	default:
		return "The AI request failed. Nothing was changed; please try again."
	}
}
