package struggle

import (
	"cmp"
	"log/slog"
	"math"
	"slices"

	"github.com/myrjola/struggle/internal/errors"
)

// GeneratedExercise is one concrete exercise instance of a generated workout.
type GeneratedExercise struct {
	ExerciseID       string      `json:"exercise_id"`
	Name             string      `json:"name"`
	Measurement      Measurement `json:"measurement"`
	Value            int         `json:"value"`
	Weight           float64     `json:"weight"`
	EstimatedSeconds int         `json:"estimated_seconds"`
}

// Allocator splits a struggle budget across exercises.
type Allocator struct {
	weights WeightTable
}

func NewAllocator(weights WeightTable) *Allocator {
	return &Allocator{weights: weights}
}

// Allocate orders exercises to alternate high-cost and low-cost movements and converts an equal share of budget
// into a bounded value for each of them.
func (a *Allocator) Allocate(exercises []Exercise, budget float64) ([]GeneratedExercise, error) {
	if len(exercises) == 0 {
		return nil, errors.Wrap(ErrConfiguration, "no exercises to allocate")
	}
	if !(budget > 0) || math.IsInf(budget, 0) {
		return nil, errors.Wrap(ErrConfiguration, "budget must be positive", slog.Float64("budget", budget))
	}

	type weighted struct {
		exercise Exercise
		weight   float64
	}
	sorted := make([]weighted, len(exercises))
	for i, e := range exercises {
		sorted[i] = weighted{exercise: e, weight: a.weights.Weight(e.Name)}
	}
	slices.SortStableFunc(sorted, func(x, y weighted) int {
		return cmp.Compare(y.weight, x.weight)
	})

	var high, low []weighted
	for _, w := range sorted {
		if IsHighCost(w.weight) {
			high = append(high, w)
		} else {
			low = append(low, w)
		}
	}

	ordered := make([]weighted, 0, len(sorted))
	for i := 0; i < len(high) || i < len(low); i++ {
		if i < len(high) {
			ordered = append(ordered, high[i])
		}
		if i < len(low) {
			ordered = append(ordered, low[i])
		}
	}

	perExercise := budget / float64(len(ordered))
	out := make([]GeneratedExercise, len(ordered))
	for i, w := range ordered {
		value := int(math.Round(perExercise / w.weight))
		value = min(max(value, w.exercise.Min), w.exercise.Max)
		out[i] = GeneratedExercise{
			ExerciseID:       w.exercise.ID,
			Name:             w.exercise.Name,
			Measurement:      w.exercise.Measurement,
			Value:            value,
			Weight:           w.weight,
			EstimatedSeconds: w.exercise.EstimateSeconds(value),
		}
	}
	return out, nil
}
