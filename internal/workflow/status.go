package workflow

import "strings"

// Status represents the lifecycle of a product moving through the pipeline.
type Status string

const (
	StatusPendingAI Status = "pending_ai"
	StatusAIRunning Status = "ai_running"
	StatusAIDone    Status = "ai_done"
	StatusAssigned  Status = "assigned"
	StatusInReview  Status = "in_review"
	StatusReviewed  Status = "reviewed"
	StatusFinalized Status = "finalized"
)

var allStatuses = []Status{
	StatusPendingAI,
	StatusAIRunning,
	StatusAIDone,
	StatusAssigned,
	StatusInReview,
	StatusReviewed,
	StatusFinalized,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known product statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}
