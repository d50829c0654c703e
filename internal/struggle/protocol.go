package struggle

import (
	"log/slog"
	"slices"

	"github.com/myrjola/struggle/internal/errors"
)

type Access string

const (
	AccessFree  Access = "free"
	AccessGated Access = "gated"
)

// Protocol is a named difficulty tier.
type Protocol struct {
	ID     string  `json:"id"     yaml:"id"`
	Name   string  `json:"name"   yaml:"name"`
	Budget float64 `json:"budget" yaml:"budget"`
	Access Access  `json:"access" yaml:"access"`
	// RewardMultiplier scales the base reward of the scorer.
	RewardMultiplier float64 `json:"reward_multiplier" yaml:"reward_multiplier"`
	// UnlockedBy names a progression feature that grants free users access to a gated protocol.
	UnlockedBy string `json:"unlocked_by,omitempty" yaml:"unlocked_by"`
}

// DefaultProtocols returns the baseline, mid and hardest tiers.
func DefaultProtocols() []Protocol {
	return []Protocol{
		{ID: "steady", Name: "Steady State", Budget: 50, Access: AccessFree, RewardMultiplier: 1.0, UnlockedBy: ""},
		{ID: "explosive", Name: "Explosive", Budget: 75, Access: AccessFree, RewardMultiplier: 1.5, UnlockedBy: ""},
		{ID: "inferno", Name: "Inferno", Budget: 100, Access: AccessGated, RewardMultiplier: 2.0,
			UnlockedBy: "streak_7"},
	}
}

// Validate checks the protocol definition.
func (p Protocol) Validate() error {
	attrs := []slog.Attr{slog.String("protocol", p.ID)}
	switch {
	case p.ID == "":
		return errors.Wrap(ErrIntegrity, "protocol id missing")
	case !(p.Budget > 0):
		return errors.Wrap(ErrConfiguration, "protocol budget must be positive",
			append(attrs, slog.Float64("budget", p.Budget))...)
	case !(p.RewardMultiplier > 0):
		return errors.Wrap(ErrConfiguration, "protocol reward multiplier must be positive",
			append(attrs, slog.Float64("multiplier", p.RewardMultiplier))...)
	case p.Access != AccessFree && p.Access != AccessGated:
		return errors.Wrap(ErrIntegrity, "unknown protocol access",
			append(attrs, slog.String("access", string(p.Access)))...)
	}
	return nil
}

// AccessibleWith reports whether a free-tier user with the given unlocked features may use the protocol.
func (p Protocol) AccessibleWith(unlocked []string) bool {
	if p.Access == AccessFree {
		return true
	}
	return p.UnlockedBy != "" && slices.Contains(unlocked, p.UnlockedBy)
}
