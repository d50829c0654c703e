package workout

import (
	"time"

	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/progression"
	"github.com/myrjola/struggle/internal/struggle"
)

var (
	ErrNotFound = errors.NewSentinel("not found")
	// ErrQuotaExhausted is returned when a free user has no generations left today.
	ErrQuotaExhausted = errors.NewSentinel("daily generation quota exhausted")
	// ErrProtocolLocked is returned when a free user asks for a gated protocol they have not unlocked.
	ErrProtocolLocked = errors.NewSentinel("protocol locked")
	// ErrUnavailable is returned when the text generation collaborator cannot serve a chat.
	ErrUnavailable = errors.NewSentinel("collaborator unavailable")
	// ErrAlreadyCompleted is returned when a workout is completed a second time.
	ErrAlreadyCompleted = errors.NewSentinel("workout already completed")
)

// User is an anonymous session-bound identity.
type User struct {
	ID        int64            `json:"id"`
	Tier      progression.Tier `json:"tier"`
	CreatedAt time.Time        `json:"created_at"`
}

// CurrentWorkout is a generated workout stored as the user's current one.
type CurrentWorkout struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	struggle.GeneratedWorkout
}

type GenerateRequest struct {
	ProtocolID string
	PackageID  string
	// Legacy selects exactly three exercises from PackageID.
	Legacy bool
}

type CompleteRequest struct {
	ActualSeconds float64
	// Feeling is an optional free-text self report.
	Feeling string
}

// GlobalStats aggregates completions of one workout fingerprint across users.
type GlobalStats struct {
	Fingerprint    string  `json:"fingerprint"`
	Completions    int     `json:"completions"`
	AverageSeconds float64 `json:"average_seconds"`
	FastestSeconds float64 `json:"fastest_seconds"`
}

// Progress is the user's progression together with the accumulated reward currency.
type Progress struct {
	progression.State
	RewardBalance int `json:"reward_balance"`
}

// Completion is the outcome of recording a finished workout.
type Completion struct {
	Reward        struggle.Reward `json:"reward"`
	Progress      Progress        `json:"progression"`
	NewlyUnlocked []string        `json:"newly_unlocked"`
	GlobalStats   *GlobalStats    `json:"global_stats,omitempty"`
	InsightHTML   string          `json:"insight_html,omitempty"`
	// Saved is false when persistence failed. The result is still valid for the session.
	Saved bool `json:"saved"`
}

// ProtocolAccess is a protocol annotated with whether the current user may generate it.
type ProtocolAccess struct {
	struggle.Protocol
	Accessible bool `json:"accessible"`
}

// completedWorkout is a row of completed_workouts.
type completedWorkout struct {
	WorkoutID     string
	ProtocolID    string
	Fingerprint   string
	ActualSeconds float64
	TargetSeconds int
	Feeling       string
	Reward        int
	CompletedOn   time.Time
}
