package progression

import "time"

type Tier string

const (
	TierFree      Tier = "free"
	TierUnlimited Tier = "unlimited"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierUnlimited
}

// Quota is the generation counter for a single calendar date.
type Quota struct {
	Used int       `json:"used"`
	Date time.Time `json:"date"`
}

// UsedOn returns the generations used on today. A counter from another day reads as zero.
func (q Quota) UsedOn(today time.Time) int {
	if q.Date.IsZero() || !Date(q.Date).Equal(Date(today)) {
		return 0
	}
	return q.Used
}

// Remaining returns how many generations are left today under limit.
func (q Quota) Remaining(today time.Time, limit int) int {
	return max(limit-q.UsedOn(today), 0)
}

// Consume records one generation on today.
func (q Quota) Consume(today time.Time) Quota {
	return Quota{Used: q.UsedOn(today) + 1, Date: Date(today)}
}

// QuotaStatus is the user-visible quota. Unlimited users get no numbers at all.
type QuotaStatus struct {
	Unlimited bool `json:"unlimited"`
	Limit     *int `json:"limit,omitempty"`
	Remaining *int `json:"remaining,omitempty"`
}

// Status reports the quota for tier.
func (q Quota) Status(today time.Time, limit int, tier Tier) QuotaStatus {
	if tier == TierUnlimited {
		return QuotaStatus{Unlimited: true, Limit: nil, Remaining: nil}
	}
	remaining := q.Remaining(today, limit)
	return QuotaStatus{Unlimited: false, Limit: &limit, Remaining: &remaining}
}
