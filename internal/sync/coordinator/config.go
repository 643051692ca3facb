package coordinator

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultSyncTimeout bounds a single joplin sync invocation
	DefaultSyncTimeout = 300 * time.Second

	// syncCommand is the joplin subcommand run by every trigger
	syncCommand = "sync"

	// jitterFraction is the maximum relative offset (±10%) applied to the periodic interval
	jitterFraction = 0.1
)

// jitteredInterval returns base with a random offset of up to ±10% applied,
// so that several bridges sharing a sync target don't hit it in lockstep.
func jitteredInterval(base time.Duration) time.Duration {
	jitter := time.Duration(float64(base) * jitterFraction)
	if jitter <= 0 {
		return base
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return base + offset
}
