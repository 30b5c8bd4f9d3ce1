package model

import (
	"testing"
	"time"
)

func TestParseBillingCycle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want BillingCycle
	}{
		{name: "plain monthly", text: "monthly", want: CycleMonthly},
		{name: "mixed case", text: "Monthly", want: CycleMonthly},
		{name: "padded", text: "  yearly  ", want: CycleAnnual},
		{name: "per month", text: "per month", want: CycleMonthly},
		{name: "weekly", text: "week", want: CycleWeekly},
		{name: "quarterly", text: "every 3 months", want: CycleQuarterly},
		{name: "annual", text: "annually", want: CycleAnnual},
		{name: "gibberish maps to unknown", text: "whenever we feel like it", want: CycleUnknown},
		{name: "empty maps to unknown", text: "", want: CycleUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseBillingCycle(tt.text); got != tt.want {
				t.Errorf("ParseBillingCycle(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestBillingCycle_NextAfter(t *testing.T) {
	base := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		cycle BillingCycle
		want  time.Time
	}{
		{name: "weekly adds 7 days", cycle: CycleWeekly, want: base.AddDate(0, 0, 7)},
		{name: "monthly adds one month", cycle: CycleMonthly, want: base.AddDate(0, 1, 0)},
		{name: "quarterly adds three months", cycle: CycleQuarterly, want: base.AddDate(0, 3, 0)},
		{name: "annual adds one year", cycle: CycleAnnual, want: base.AddDate(1, 0, 0)},
		{name: "unknown leaves date unmodified", cycle: CycleUnknown, want: base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cycle.NextAfter(base); !got.Equal(tt.want) {
				t.Errorf("NextAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPriorityForAge(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		received time.Time
		want     Priority
	}{
		{name: "one hour old is high", received: now.Add(-1 * time.Hour), want: PriorityHigh},
		{name: "just under a day is high", received: now.Add(-23 * time.Hour), want: PriorityHigh},
		{name: "two days old is normal", received: now.Add(-48 * time.Hour), want: PriorityNormal},
		{name: "just under a week is normal", received: now.Add(-6 * 24 * time.Hour), want: PriorityNormal},
		{name: "ten days old is low", received: now.Add(-10 * 24 * time.Hour), want: PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriorityForAge(tt.received, now); got != tt.want {
				t.Errorf("PriorityForAge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscription_RenewsWithin(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	in5 := now.AddDate(0, 0, 5)
	in10 := now.AddDate(0, 0, 10)
	past := now.AddDate(0, 0, -1)

	tests := []struct {
		name    string
		renewal *time.Time
		window  time.Duration
		want    bool
	}{
		{name: "renewal in 5 days inside 7 day window", renewal: &in5, window: 7 * 24 * time.Hour, want: true},
		{name: "renewal in 10 days outside 7 day window", renewal: &in10, window: 7 * 24 * time.Hour, want: false},
		{name: "past renewal not upcoming", renewal: &past, window: 7 * 24 * time.Hour, want: false},
		{name: "no renewal date", renewal: nil, window: 7 * 24 * time.Hour, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Subscription{NextRenewalAt: tt.renewal}
			if got := s.RenewsWithin(now, tt.window); got != tt.want {
				t.Errorf("RenewsWithin() = %v, want %v", got, tt.want)
			}
		})
	}
}
