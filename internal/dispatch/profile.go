package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownProfile rejects profile names outside the closed set.
var ErrUnknownProfile = errors.New("unknown rate profile")

// ProfileName is the closed set of pacing presets. Unknown names are
// rejected at the boundary; there is no silent fallback.
type ProfileName string

const (
	ProfileSafe       ProfileName = "safe"
	ProfileBalanced   ProfileName = "balanced"
	ProfileAggressive ProfileName = "aggressive"
)

// DelayRange is a [Min, Max] window a delay is drawn from uniformly.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// BreakConfig models a human stepping away: with Probability, an extra
// pause in [Min, Max] is added on top of the per-message delay.
type BreakConfig struct {
	Probability float64
	Min         time.Duration
	Max         time.Duration
}

// Profile is one pacing preset. Values are fixed per name; switching
// profiles mid-run takes effect on the next pacing computation and never
// rewinds counters already accrued.
type Profile struct {
	Name ProfileName

	BetweenMessages DelayRange
	BetweenBatches  DelayRange
	RandomBreak     BreakConfig

	MessagesPerBatch   int
	MessagesPerHour    int
	MessagesPerDay     int
	MaxBurstSize       int
	CooldownAfterBurst time.Duration
}

var profiles = map[ProfileName]Profile{
	ProfileSafe: {
		Name:               ProfileSafe,
		BetweenMessages:    DelayRange{45 * time.Second, 90 * time.Second},
		BetweenBatches:     DelayRange{5 * time.Minute, 10 * time.Minute},
		RandomBreak:        BreakConfig{Probability: 0.15, Min: 2 * time.Minute, Max: 5 * time.Minute},
		MessagesPerBatch:   10,
		MessagesPerHour:    12,
		MessagesPerDay:     80,
		MaxBurstSize:       3,
		CooldownAfterBurst: 8 * time.Minute,
	},
	ProfileBalanced: {
		Name:               ProfileBalanced,
		BetweenMessages:    DelayRange{20 * time.Second, 45 * time.Second},
		BetweenBatches:     DelayRange{2 * time.Minute, 5 * time.Minute},
		RandomBreak:        BreakConfig{Probability: 0.10, Min: 1 * time.Minute, Max: 3 * time.Minute},
		MessagesPerBatch:   20,
		MessagesPerHour:    25,
		MessagesPerDay:     170,
		MaxBurstSize:       5,
		CooldownAfterBurst: 5 * time.Minute,
	},
	ProfileAggressive: {
		Name:               ProfileAggressive,
		BetweenMessages:    DelayRange{8 * time.Second, 20 * time.Second},
		BetweenBatches:     DelayRange{1 * time.Minute, 2 * time.Minute},
		RandomBreak:        BreakConfig{Probability: 0.05, Min: 30 * time.Second, Max: 90 * time.Second},
		MessagesPerBatch:   35,
		MessagesPerHour:    45,
		MessagesPerDay:     280,
		MaxBurstSize:       10,
		CooldownAfterBurst: 3 * time.Minute,
	},
}

// LookupProfile resolves a profile by name.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[ProfileName(name)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}
