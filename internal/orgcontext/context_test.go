package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
)

func TestOrgIDFromContext(t *testing.T) {
	if _, ok := OrgIDFromContext(context.Background()); ok {
		t.Fatalf("expected no org id on empty context")
	}

	ctx := WithOrgID(context.Background(), snowflake.ID(42))
	orgID, ok := OrgIDFromContext(ctx)
	if !ok || orgID != 42 {
		t.Fatalf("expected org 42, got %d (ok=%v)", orgID, ok)
	}

	if _, ok := OrgIDFromContext(WithOrgID(context.Background(), 0)); ok {
		t.Fatalf("expected zero org id to be rejected")
	}
}

func TestParseOrgID(t *testing.T) {
	if id, ok := ParseOrgID(" 1001 "); !ok || id != 1001 {
		t.Fatalf("expected 1001, got %d (ok=%v)", id, ok)
	}
	for _, raw := range []string{"", "abc", "-5", "0"} {
		if _, ok := ParseOrgID(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
