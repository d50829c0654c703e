// Package progression tracks streaks, totals and feature unlocks driven by completed workouts, and the
// per-day generation quota.
package progression

import (
	"slices"
	"time"
)

// State is the per-user progression record.
type State struct {
	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`
	// LastWorkoutDate is the calendar date of the last completion. Zero means no completion yet.
	LastWorkoutDate time.Time `json:"last_workout_date"`
	TotalWorkouts   int       `json:"total_workouts"`
	// Unlocked is a sorted set of feature ids.
	Unlocked []string `json:"unlocked"`
}

// HasUnlocked reports whether feature is in the unlocked set.
func (s State) HasUnlocked(feature string) bool {
	_, found := slices.BinarySearch(s.Unlocked, feature)
	return found
}

type Metric string

const (
	MetricStreak Metric = "streak"
	MetricTotal  Metric = "total"
)

// Unlock grants Feature once Metric reaches Threshold.
type Unlock struct {
	Feature   string
	Metric    Metric
	Threshold int
}

func (u Unlock) reached(s State) bool {
	switch u.Metric {
	case MetricStreak:
		return s.CurrentStreak >= u.Threshold
	case MetricTotal:
		return s.TotalWorkouts >= u.Threshold
	default:
		return false
	}
}

// Policy applies completion events to State.
type Policy struct {
	Unlocks []Unlock
}

func DefaultPolicy() Policy {
	//nolint:mnd // unlock thresholds.
	return Policy{Unlocks: []Unlock{
		{Feature: "streak_7", Metric: MetricStreak, Threshold: 7},
		{Feature: "total_10", Metric: MetricTotal, Threshold: 10},
		{Feature: "total_25", Metric: MetricTotal, Threshold: 25},
		{Feature: "total_50", Metric: MetricTotal, Threshold: 50},
	}}
}

// Transition is the result of applying one completion.
type Transition struct {
	State State `json:"state"`
	// NewlyUnlocked lists the features this completion unlocked, in policy order.
	NewlyUnlocked []string `json:"newly_unlocked"`
}

// Apply records a completion on calendar date d. The input state is not modified.
func (p Policy) Apply(s State, d time.Time) Transition {
	day := Date(d)
	next := s
	next.Unlocked = slices.Clone(s.Unlocked)

	switch {
	case s.LastWorkoutDate.IsZero():
		next.CurrentStreak = 1
	case day.Equal(Date(s.LastWorkoutDate)):
		// Same day re-completion keeps the streak.
	case day.Equal(Date(s.LastWorkoutDate).AddDate(0, 0, 1)):
		next.CurrentStreak++
	default:
		next.CurrentStreak = 1
	}
	next.LongestStreak = max(next.LongestStreak, next.CurrentStreak)
	next.TotalWorkouts++
	next.LastWorkoutDate = day

	newly := []string{}
	for _, u := range p.Unlocks {
		if next.HasUnlocked(u.Feature) || !u.reached(next) {
			continue
		}
		i, _ := slices.BinarySearch(next.Unlocked, u.Feature)
		next.Unlocked = slices.Insert(next.Unlocked, i, u.Feature)
		newly = append(newly, u.Feature)
	}
	return Transition{State: next, NewlyUnlocked: newly}
}

// Date truncates t to its calendar date in t's location, expressed as UTC midnight.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
