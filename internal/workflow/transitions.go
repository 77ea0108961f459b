package workflow

import (
	"fmt"

	"facet/internal/services"
)

// transitions is the authoritative adjacency table for the product
// lifecycle. The only backward edges are the rejection resets, in_review ->
// assigned and reviewed -> assigned, taken when an admin rejects a completed
// batch. finalized is terminal.
var transitions = map[Status][]Status{
	StatusPendingAI: {StatusAIRunning},
	StatusAIRunning: {StatusAIDone},
	StatusAIDone:    {StatusAssigned},
	StatusAssigned:  {StatusInReview},
	StatusInReview:  {StatusReviewed, StatusAssigned},
	StatusReviewed:  {StatusFinalized, StatusAssigned},
	StatusFinalized: {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate returns a typed error when the requested transition is not in the
// adjacency table. The caller must not apply a rejected transition.
func Validate(from, to Status) error {
	if _, ok := statusSet[from]; !ok {
		return services.Wrap(services.ErrValidation, "workflow", "validate transition", fmt.Sprintf("unknown status %q", from), nil)
	}
	if _, ok := statusSet[to]; !ok {
		return services.Wrap(services.ErrValidation, "workflow", "validate transition", fmt.Sprintf("unknown status %q", to), nil)
	}
	if !CanTransition(from, to) {
		return services.Wrap(services.ErrInvalidTransition, "workflow", "validate transition", fmt.Sprintf("%s -> %s", from, to), nil)
	}
	return nil
}

// NextStatuses returns the statuses reachable from the provided one.
func NextStatuses(from Status) []Status {
	next := transitions[from]
	cp := make([]Status, len(next))
	copy(cp, next)
	return cp
}
