package struggle

import (
	"log/slog"
	"maps"
	"math"

	"github.com/myrjola/struggle/internal/errors"
)

const (
	// DefaultWeight is the struggle weight of any exercise missing from the WeightTable.
	//
	// DefaultWeight is below HighCostThreshold, so unmapped exercises always land in the low-cost group.
	DefaultWeight = 0.3
	// HighCostThreshold is the weight at or above which an exercise counts as high-cost.
	HighCostThreshold = 0.4
)

// WeightTable maps exercise names to their per-unit struggle weight.
type WeightTable struct {
	weights map[string]float64
}

// NewWeightTable validates that every weight is a positive finite number.
func NewWeightTable(weights map[string]float64) (WeightTable, error) {
	for name, w := range weights {
		if !(w > 0) || math.IsInf(w, 0) {
			return WeightTable{}, errors.Wrap(ErrIntegrity, "weight must be positive",
				slog.String("exercise", name), slog.Float64("weight", w))
		}
	}
	return WeightTable{weights: maps.Clone(weights)}, nil
}

// Weight returns the weight for name or DefaultWeight when the name is unmapped.
func (t WeightTable) Weight(name string) float64 {
	if w, ok := t.weights[name]; ok {
		return w
	}
	return DefaultWeight
}

// IsHighCost reports whether weight belongs to the high-cost group.
func IsHighCost(weight float64) bool {
	return weight >= HighCostThreshold
}
