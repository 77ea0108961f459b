package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds shared by the engine packages and the API layer.
// Callers classify failures with errors.Is against these markers.
var (
	// ErrValidation marks malformed or out-of-policy input: a subcategory
	// outside its category, a non-string enum value, a batch size or
	// overlap count outside the configured bounds.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a reference to a missing product, attribute,
	// batch, item, annotation, overlap, or flag.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition marks a product status change rejected by the
	// workflow adjacency table.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrIncompleteAnnotations marks a finalization attempt missing
	// approved annotations for one or more applicable attributes.
	ErrIncompleteAnnotations = errors.New("incomplete annotations")
	// ErrConflict marks an operation against an entity in the wrong state,
	// such as reviewing a batch that is not completed.
	ErrConflict = errors.New("conflict")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above; a nil marker leaves the error
// unclassified so Kind reports it as internal.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		if err != nil {
			return fmt.Errorf("%s: %w", detail, err)
		}
		return errors.New(detail)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the wire-level classification string for an error, or
// "internal" when the error carries no known marker.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIncompleteAnnotations):
		return "incomplete_annotations"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	default:
		return "internal"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
