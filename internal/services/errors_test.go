package services_test

import (
	"errors"
	"testing"

	"facet/internal/services"
)

func TestWrapPreservesMarker(t *testing.T) {
	inner := errors.New("row missing")
	err := services.Wrap(services.ErrNotFound, "finalize", "lookup product", "product 42", inner)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected marker to survive wrapping: %v", err)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("expected inner error to survive wrapping: %v", err)
	}
	want := "not found: finalize: lookup product: product 42: row missing"
	if err.Error() != want {
		t.Fatalf("unexpected message %q, want %q", err.Error(), want)
	}
}

func TestKindClassification(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{services.Wrap(services.ErrInvalidTransition, "workflow", "", "", nil), "invalid_transition"},
		{services.Wrap(services.ErrNotFound, "store", "", "", nil), "not_found"},
		{services.Wrap(services.ErrIncompleteAnnotations, "finalize", "", "", nil), "incomplete_annotations"},
		{services.Wrap(services.ErrConflict, "assignment", "", "", nil), "conflict"},
		{services.Wrap(services.ErrValidation, "assignment", "", "", nil), "validation_failed"},
		{services.Wrap(nil, "store", "query", "boom", errors.New("disk on fire")), "internal"},
		{errors.New("disk on fire"), "internal"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
