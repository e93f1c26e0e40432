package ai

import (
	"github.com/benvon/visionpath/internal/logger"
)

// MaxPreviewLength is the length of prompt and response previews outside debug mode
const MaxPreviewLength = logger.MaxPreviewLength

// RedactedValue replaces the hidden part of a secret
const RedactedValue = "[REDACTED]"

// SanitizeAPIKey keeps the first and last four characters of an API key
func SanitizeAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return RedactedValue
	}
	return apiKey[:4] + RedactedValue + apiKey[len(apiKey)-4:]
}

// SanitizePrompt returns a log-safe prompt, full up to the debug cap or as a short preview
func SanitizePrompt(prompt string, fullLog bool) string {
	return logger.Preview(prompt, fullLog)
}

// SanitizeResponse returns a log-safe model response
func SanitizeResponse(response string, fullLog bool) string {
	return logger.Preview(response, fullLog)
}
