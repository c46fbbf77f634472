package verification

import "testing"

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		name          string
		detectionType string
		threat        float64
		confidence    float64
		vip           bool
		want          Priority
	}{
		{"extreme threat", "misinformation", 0.95, 0.5, false, PriorityCritical},
		{"vip lowers critical bar", "misinformation", 0.75, 0.5, true, PriorityCritical},
		{"fake profile near certain", "fake_profile", 0.85, 0.5, false, PriorityCritical},
		{"high threat", "misinformation", 0.75, 0.5, false, PriorityHigh},
		{"vip moderate threat", "misinformation", 0.55, 0.5, true, PriorityHigh},
		{"confident model", "misinformation", 0.3, 0.85, false, PriorityHigh},
		{"moderate threat", "misinformation", 0.55, 0.5, false, PriorityMedium},
		{"moderate confidence", "misinformation", 0.3, 0.65, false, PriorityMedium},
		{"background noise", "misinformation", 0.2, 0.3, false, PriorityLow},
		{"fake profile below bar", "fake_profile", 0.6, 0.5, false, PriorityMedium},
	}
	for _, tt := range tests {
		got := PriorityFor(tt.detectionType, tt.threat, tt.confidence, tt.vip)
		if got != tt.want {
			t.Errorf("%s: PriorityFor = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	ordered := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Errorf("%s should rank before %s", ordered[i-1], ordered[i])
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusConfirmedFake, StatusDismissed, StatusEscalated}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []Status{StatusPending, StatusAssigned, StatusNeedsReview}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
