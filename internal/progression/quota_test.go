package progression_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/struggle/internal/progression"
)

func TestQuota(t *testing.T) {
	today := day("2024-01-10")
	yesterday := day("2024-01-09")

	tests := []struct {
		name          string
		quota         progression.Quota
		wantRemaining int
		wantConsumed  progression.Quota
	}{
		{
			name:          "fresh",
			quota:         progression.Quota{Used: 0, Date: today},
			wantRemaining: 3,
			wantConsumed:  progression.Quota{Used: 1, Date: today},
		},
		{
			name:          "exhausted today",
			quota:         progression.Quota{Used: 3, Date: today},
			wantRemaining: 0,
			wantConsumed:  progression.Quota{Used: 4, Date: today},
		},
		{
			name:          "resets on a new day",
			quota:         progression.Quota{Used: 3, Date: yesterday},
			wantRemaining: 3,
			wantConsumed:  progression.Quota{Used: 1, Date: today},
		},
		{
			name:          "never used",
			quota:         progression.Quota{},
			wantRemaining: 3,
			wantConsumed:  progression.Quota{Used: 1, Date: today},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.quota.Remaining(today, 3); got != tt.wantRemaining {
				t.Errorf("Remaining() = %d, want %d", got, tt.wantRemaining)
			}
			if diff := cmp.Diff(tt.wantConsumed, tt.quota.Consume(today)); diff != "" {
				t.Errorf("Consume() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQuota_Status(t *testing.T) {
	today := day("2024-01-10")
	q := progression.Quota{Used: 2, Date: today}

	limit, remaining := 3, 1
	want := progression.QuotaStatus{Unlimited: false, Limit: &limit, Remaining: &remaining}
	if diff := cmp.Diff(want, q.Status(today, 3, progression.TierFree)); diff != "" {
		t.Errorf("Status(free) mismatch (-want +got):\n%s", diff)
	}
	want = progression.QuotaStatus{Unlimited: true, Limit: nil, Remaining: nil}
	if diff := cmp.Diff(want, q.Status(today, 3, progression.TierUnlimited)); diff != "" {
		t.Errorf("Status(unlimited) mismatch (-want +got):\n%s", diff)
	}
}
