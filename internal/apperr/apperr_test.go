package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(NotFound, "eleve not found")
	if KindOf(err) != NotFound {
		t.Fatalf("expected NotFound, got %v", KindOf(err))
	}
	wrapped := fmt.Errorf("lookup: %w", err)
	if KindOf(wrapped) != NotFound {
		t.Fatalf("kind lost through wrapping: %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain error should have unknown kind")
	}
}

func TestRequireHelpers(t *testing.T) {
	if err := RequireAuthenticated(""); KindOf(err) != Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if err := RequireAuthenticated("user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := RequirePermission(false, "staff only"); KindOf(err) != PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	if err := RequireArgument(false, "mois is required"); KindOf(err) != InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if err := RequireArgument(true, "mois is required"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWrapUnexpectedPreservesTypedFailures(t *testing.T) {
	typed := New(AlreadyExists, "paiement already exists for this month")
	got := WrapUnexpected(typed, "ledger failure")
	if got != typed {
		t.Fatalf("typed failure was rewritten: %v", got)
	}
	if got := WrapUnexpected(fmt.Errorf("ctx: %w", typed), "ledger failure"); KindOf(got) != AlreadyExists {
		t.Fatalf("wrapped typed failure lost its kind: %v", got)
	}
}

func TestWrapUnexpectedConvertsToInternal(t *testing.T) {
	cause := errors.New("pq: connection refused")
	got := WrapUnexpected(cause, "payment could not be recorded")
	if KindOf(got) != Internal {
		t.Fatalf("expected Internal, got %v", got)
	}
	if MessageOf(got) != "payment could not be recorded" {
		t.Fatalf("fallback message not used: %q", MessageOf(got))
	}
	if !errors.Is(got, cause) {
		t.Fatal("cause should remain reachable for server-side inspection")
	}
}

func TestWrapUnexpectedNil(t *testing.T) {
	if WrapUnexpected(nil, "noop") != nil {
		t.Fatal("nil must stay nil")
	}
}
