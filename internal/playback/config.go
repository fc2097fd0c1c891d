package playback

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const (
	DefaultDebounceWindow = 200 * time.Millisecond
	DefaultSettleWindow   = 500 * time.Millisecond
	DefaultSampleInterval = time.Second
	DefaultDriftThreshold = 2.0 // seconds
)

// Config holds the engine timings and collaborators. Zero fields take the
// defaults above.
type Config struct {
	// DebounceWindow drops an inbound event arriving this soon after the
	// previously applied one, whatever its type.
	DebounceWindow time.Duration
	// SettleWindow is how long play/pause/seek guards stay up after a remote
	// event has been applied.
	SettleWindow time.Duration
	// SampleInterval is the drift monitor period. It is shortened to half the
	// drift threshold when it would not fit below it.
	SampleInterval time.Duration
	// DriftThreshold in seconds: a remote play seeks first when the local
	// position is further off than this, and a sampled jump larger than this
	// counts as a manual scrub.
	DriftThreshold float64
	// MaxTransitCompensation advances remote play positions by the time the
	// event spent in transit, capped at this value. Zero disables it.
	MaxTransitCompensation time.Duration

	// OnApplied is called from the engine goroutine after a remote event was
	// applied to the player.
	OnApplied func(action Action, position float64)

	Clock  clock.Clock
	Logger *zerolog.Logger
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = DefaultSettleWindow
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = DefaultDriftThreshold
	}
	// Normal playback between two samples must stay under the threshold,
	// otherwise every tick reads as a scrub.
	if threshold := time.Duration(c.DriftThreshold * float64(time.Second)); c.SampleInterval >= threshold {
		c.SampleInterval = threshold / 2
	}
	if c.MaxTransitCompensation < 0 {
		c.MaxTransitCompensation = 0
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
