package struggle

import (
	"log/slog"
	"math"

	"github.com/myrjola/struggle/internal/errors"
)

const (
	// TargetRatio makes the target faster than the projected duration.
	TargetRatio = 0.9
	// OverloadFactor amplifies the last exercise into the critical overload finisher.
	OverloadFactor = 1.25
)

// RandSource provides the randomness used to pick exercises. *rand.Rand from math/rand/v2 satisfies it.
type RandSource interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// Range is an inclusive exercise count range.
type Range struct {
	Min int
	Max int
}

var (
	// DailyRange is the count used for the workout of the day.
	DailyRange = Range{Min: 4, Max: 6}
	// LegacyRange is the count used for package workouts.
	LegacyRange = Range{Min: 3, Max: 3}
)

type Options struct {
	Count Range
	// PackageID filters the pool. Empty means AllPackageID.
	PackageID string
}

// GeneratedWorkout is the result of a single generation request.
type GeneratedWorkout struct {
	Protocol              Protocol            `json:"protocol"`
	PackageID             string              `json:"package_id"`
	Exercises             []GeneratedExercise `json:"exercises"`
	TotalEstimatedSeconds int                 `json:"total_estimated_seconds"`
	TargetSeconds         int                 `json:"target_seconds"`
	// CriticalOverload is an amplified repeat of the last exercise. It does not count towards the totals.
	CriticalOverload *GeneratedExercise `json:"critical_overload"`
	Fingerprint      string             `json:"fingerprint"`
}

// ExerciseIDs returns the ids of the base sequence in order.
func (w GeneratedWorkout) ExerciseIDs() []string {
	ids := make([]string, len(w.Exercises))
	for i, e := range w.Exercises {
		ids[i] = e.ExerciseID
	}
	return ids
}

// Generator assembles workouts from a catalog.
//
// A Generator is not safe for concurrent use unless its RandSource is.
type Generator struct {
	catalog   *Catalog
	allocator *Allocator
	rnd       RandSource
}

func NewGenerator(catalog *Catalog, rnd RandSource) *Generator {
	return &Generator{
		catalog:   catalog,
		allocator: NewAllocator(catalog.Weights()),
		rnd:       rnd,
	}
}

// Generate draws a random exercise subset and builds a workout for protocol. Calling it again is a reroll.
func (g *Generator) Generate(protocol Protocol, opts Options) (GeneratedWorkout, error) {
	if err := protocol.Validate(); err != nil {
		return GeneratedWorkout{}, err
	}
	if opts.Count.Min < 1 || opts.Count.Max < opts.Count.Min {
		return GeneratedWorkout{}, errors.Wrap(ErrConfiguration, "invalid exercise count range",
			slog.Int("min", opts.Count.Min), slog.Int("max", opts.Count.Max))
	}
	packageID := opts.PackageID
	if packageID == "" {
		packageID = AllPackageID
	}

	pool, err := g.catalog.Pool(packageID)
	if err != nil {
		return GeneratedWorkout{}, err
	}
	if len(pool) == 0 {
		return GeneratedWorkout{}, errors.Wrap(ErrConfiguration, "exercise pool is empty",
			slog.String("package", packageID))
	}

	count := opts.Count.Min + g.rnd.IntN(opts.Count.Max-opts.Count.Min+1)
	count = min(count, len(pool))
	g.rnd.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	selected := pool[:count]

	sequence, err := g.allocator.Allocate(selected, protocol.Budget)
	if err != nil {
		return GeneratedWorkout{}, err
	}

	total := 0
	for _, e := range sequence {
		total += e.EstimatedSeconds
	}

	last := sequence[len(sequence)-1]
	overload := last
	overload.Value = int(math.Round(float64(last.Value) * OverloadFactor))
	for _, e := range selected {
		if e.ID == last.ExerciseID {
			overload.EstimatedSeconds = e.EstimateSeconds(overload.Value)
			break
		}
	}

	w := GeneratedWorkout{
		Protocol:              protocol,
		PackageID:             packageID,
		Exercises:             sequence,
		TotalEstimatedSeconds: total,
		TargetSeconds:         int(math.Round(float64(total) * TargetRatio)),
		CriticalOverload:      &overload,
		Fingerprint:           "",
	}
	w.Fingerprint = Fingerprint(protocol.ID, packageID, w.ExerciseIDs())
	return w, nil
}
