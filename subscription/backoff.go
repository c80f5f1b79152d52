package subscription

import (
	rand "math/rand/v2"
	"time"
)

// fetchBackoff spaces out retries after failed fetches.
//
// Delays follow decorrelated jitter: each delay is drawn from
// [base, prev*multiplier) and capped at maxDelay. A successful fetch resets
// the sequence.
type fetchBackoff struct {
	base       time.Duration
	maxDelay   time.Duration
	multiplier float64
	rng        *rand.Rand
	prev       time.Duration
}

func newFetchBackoff(base, maxDelay time.Duration, seed int64) *fetchBackoff {
	return &fetchBackoff{
		base:       base,
		maxDelay:   maxDelay,
		multiplier: 2.0,
		rng:        newRetryRNG(seed),
	}
}

// Next returns the next delay and advances the sequence.
func (b *fetchBackoff) Next() time.Duration {
	b.prev = jitterBackoff(b.prev, b.base, b.multiplier, b.maxDelay, b.rng)
	return b.prev
}

// Reset restarts the sequence from base.
func (b *fetchBackoff) Reset() {
	b.prev = 0
}

// jitterBackoff computes the next decorrelated jitter delay.
//
//	next = min(capDur, base + rand(prev*mult - base))
//
// A non-positive prev starts from base, mult below 1 is treated as 1, and a
// cap below base returns the cap.
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	spread := time.Duration(float64(prev)*mult) - base
	if spread <= 0 {
		spread = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(spread))
	} else {
		jitter = rand.Int64N(int64(spread)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// newRetryRNG returns a deterministic RNG for a non-zero seed, or nil to use
// the package-level generator.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}
