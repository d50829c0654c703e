package struggle

import (
	"log/slog"
	"math"

	"github.com/myrjola/struggle/internal/errors"
)

type Tier string

const (
	TierCrushed   Tier = "crushed"
	TierBeat      Tier = "beat"
	TierClose     Tier = "close"
	TierCompleted Tier = "completed"
)

type Reward struct {
	Tier   Tier `json:"tier"`
	Base   int  `json:"base"`
	Amount int  `json:"amount"`
}

var rewardTiers = []struct {
	ratio float64
	tier  Tier
	base  int
}{
	{ratio: 0.8, tier: TierCrushed, base: 75},
	{ratio: 1.0, tier: TierBeat, base: 50},
	{ratio: 1.2, tier: TierClose, base: 30},
}

// Score converts an actual completion time into a reward using the protocol's multiplier.
func Score(actualSeconds, targetSeconds float64, protocol Protocol) (Reward, error) {
	if !(actualSeconds > 0) || math.IsInf(actualSeconds, 0) {
		return Reward{}, errors.Wrap(ErrInput, "actual time must be positive",
			slog.Float64("actual_seconds", actualSeconds))
	}
	if !(targetSeconds > 0) || math.IsInf(targetSeconds, 0) {
		return Reward{}, errors.Wrap(ErrConfiguration, "target time must be positive",
			slog.Float64("target_seconds", targetSeconds))
	}
	if !(protocol.RewardMultiplier > 0) {
		return Reward{}, errors.Wrap(ErrConfiguration, "reward multiplier must be positive",
			slog.String("protocol", protocol.ID), slog.Float64("multiplier", protocol.RewardMultiplier))
	}

	r := Reward{Tier: TierCompleted, Base: 15, Amount: 0} //nolint:mnd // fallback tier.
	for _, t := range rewardTiers {
		if actualSeconds <= targetSeconds*t.ratio {
			r.Tier, r.Base = t.tier, t.base
			break
		}
	}
	r.Amount = int(math.Round(float64(r.Base) * protocol.RewardMultiplier))
	return r, nil
}
