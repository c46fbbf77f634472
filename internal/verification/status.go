package verification

// Status is the state of a queue item. pending and assigned are open,
// needs_review cycles an item back to reviewers, the rest are terminal.
type Status string

const (
	StatusPending       Status = "pending"
	StatusAssigned      Status = "assigned"
	StatusNeedsReview   Status = "needs_review"
	StatusConfirmedFake Status = "confirmed_fake"
	StatusDismissed     Status = "dismissed"
	StatusEscalated     Status = "escalated"
)

// Terminal reports whether a status accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmedFake, StatusDismissed, StatusEscalated:
		return true
	}
	return false
}

// Open reports whether an item is waiting for reviewer action.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusNeedsReview
}

// Priority orders the verification queue.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank maps a priority to its sort order; lower ranks dequeue first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// PriorityFor computes an item's queue priority once, at enqueue time, from
// the model's threat and confidence scores. VIP involvement lowers the bar
// a full tier.
func PriorityFor(detectionType string, threatScore, confidence float64, vipMentioned bool) Priority {
	switch {
	case threatScore > 0.9,
		vipMentioned && threatScore > 0.7,
		detectionType == "fake_profile" && threatScore > 0.8:
		return PriorityCritical
	case threatScore > 0.7,
		vipMentioned && threatScore > 0.5,
		confidence > 0.8:
		return PriorityHigh
	case threatScore > 0.5, confidence > 0.6:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
