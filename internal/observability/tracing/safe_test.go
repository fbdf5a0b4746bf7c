package tracing

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/payments"),
		attribute.String("client_secret", "pi_123_secret_456"),
		attribute.String("customer_email", "a@b.c"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestSafeErrorRedactsSecrets(t *testing.T) {
	if err := SafeError(errors.New("auth failed for sk_test_abc")); err.Error() != "redacted error" {
		t.Fatalf("expected redaction, got %v", err)
	}
	if err := SafeError(errors.New("gateway timeout")); err.Error() != "gateway timeout" {
		t.Fatalf("expected passthrough, got %v", err)
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}
