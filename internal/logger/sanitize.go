package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Length caps for values written to logs
const (
	MaxPathLength          = 500
	MaxUserIDLength        = 128 // UUIDs are 36
	MaxErrorMessageLength  = 1000
	MaxGeneralStringLength = 2000
	// MaxPreviewLength bounds prompt and model output previews outside debug mode
	MaxPreviewLength = 200
	// MaxDebugContentLength bounds full prompt and model output in debug mode
	MaxDebugContentLength = 10000
)

// SanitizeString makes s safe for a log field: invalid UTF-8 and control
// characters other than whitespace are dropped and the result is cut to
// maxLength bytes on a rune boundary, with "..." marking the cut.
// maxLength <= 0 uses MaxGeneralStringLength.
func SanitizeString(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPrint(r) || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			b.WriteRune(r)
		}
	}
	return truncate(b.String(), maxLength)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// SanitizePath cleans a request path
func SanitizePath(path string) string {
	return SanitizeString(path, MaxPathLength)
}

// SanitizeError cleans an error message; nil gives ""
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error(), MaxErrorMessageLength)
}

// SanitizeUserID cleans a subject or user id taken from a token
func SanitizeUserID(userID string) string {
	return SanitizeString(userID, MaxUserIDLength)
}

// Preview cleans prompt or model text. Full keeps up to MaxDebugContentLength
// for debug logs; otherwise the text is cut to MaxPreviewLength.
func Preview(text string, full bool) string {
	if full {
		return SanitizeString(text, MaxDebugContentLength)
	}
	return SanitizeString(text, MaxPreviewLength)
}
