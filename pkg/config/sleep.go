package config

import (
	"math/rand"
	"time"
)

const (
	// absoluteMinSleep and absoluteMaxSleep bound the base interval no matter
	// what is stored in the config file.
	absoluteMinSleep = time.Second
	absoluteMaxSleep = 24 * time.Hour
)

// SleepDuration computes the poll interval at now. The interval ramps
// linearly from MinSleep right after a reconfiguration to MaxSleep once
// MaxSleepAfter has passed without one. jitter must be in [0, 1) and spreads
// the result over [0.5, 1.5) of the base so that a fleet following one remote
// does not poll in lockstep. The result is never below MinSleep.
func (c Config) SleepDuration(now time.Time, jitter float64) time.Duration {
	minSleep := clampDuration(c.minSleep, absoluteMinSleep, absoluteMaxSleep)
	maxSleep := clampDuration(c.maxSleep, absoluteMinSleep, absoluteMaxSleep)
	if maxSleep < minSleep {
		maxSleep = minSleep
	}

	elapsed := time.Second
	if !c.lastReconfiguration.IsZero() {
		if since := now.Sub(c.lastReconfiguration); since > elapsed {
			elapsed = since
		}
	}

	ratio := 1.0
	if c.maxSleepAfter > 0 {
		ratio = float64(elapsed) / float64(c.maxSleepAfter)
	}
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}

	base := minSleep + time.Duration(ratio*float64(maxSleep-minSleep))
	base = clampDuration(base, absoluteMinSleep, absoluteMaxSleep)

	switch {
	case jitter < 0:
		jitter = 0
	case jitter >= 1:
		jitter = 0.999999
	}
	d := time.Duration(float64(base) * (0.5 + jitter))
	if d < minSleep {
		d = minSleep
	}
	return d
}

// RandomSleepDuration is SleepDuration with jitter drawn from rnd.
func (c Config) RandomSleepDuration(now time.Time, rnd *rand.Rand) time.Duration {
	return c.SleepDuration(now, rnd.Float64())
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
