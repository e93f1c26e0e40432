package ai

import (
	"context"
	"strings"
	"testing"
)

func TestSanitizeAPIKey(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                "",
		"short":           RedactedValue,
		"sk-1234567890ab": "sk-1" + RedactedValue + "90ab",
	}
	for in, want := range tests {
		if got := SanitizeAPIKey(in); got != want {
			t.Errorf("SanitizeAPIKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeResponse_StripsControlAndTruncates(t *testing.T) {
	t.Parallel()
	got := SanitizeResponse("line\x00one\x1b[31m", false)
	if strings.ContainsAny(got, "\x00\x1b") {
		t.Errorf("expected control characters removed, got %q", got)
	}

	long := strings.Repeat("é", MaxPreviewLength)
	got = SanitizeResponse(long, false)
	if !strings.HasSuffix(got, "...") || len(got) > MaxPreviewLength+3 {
		t.Errorf("expected truncated preview, got %d bytes", len(got))
	}
	if strings.ContainsRune(got, '�') {
		t.Error("expected truncation on a rune boundary")
	}
}

func TestContextValues(t *testing.T) {
	t.Parallel()
	ctx := WithRequestID(WithProjectID(WithUserID(context.Background(), "u1"), "p1"), "r1")
	if ExtractUserID(ctx) != "u1" || ExtractProjectID(ctx) != "p1" || ExtractRequestID(ctx) != "r1" {
		t.Error("expected values round-tripped through context")
	}
	if ExtractUserID(context.Background()) != "" {
		t.Error("expected empty user id on bare context")
	}
}
