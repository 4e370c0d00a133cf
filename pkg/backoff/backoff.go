// Package backoff computes retry delays for durable work units.
//
// The default policy doubles a 30 second base per attempt and stops growing
// after eight doublings:
//
//	delay(attempts) = 30s * 2^(min(max(attempts, 1), 8) - 1)
//
// so the sequence is 30s, 1m, 2m, 4m, 8m, 16m, 32m, 64m and then flat.
package backoff

import "time"

const (
	// DefaultBase is the delay applied after the first failed attempt.
	DefaultBase = 30 * time.Second
	// DefaultMaxDoublings caps exponential growth.
	DefaultMaxDoublings = 8
)

// Policy is an exponential backoff schedule.
type Policy struct {
	Base         time.Duration
	MaxDoublings int
}

// Default returns the policy shared by envelopes, outbox messages and deliveries.
func Default() Policy {
	return Policy{Base: DefaultBase, MaxDoublings: DefaultMaxDoublings}
}

// Delay returns how long to wait before the next attempt given the number
// of attempts already made. Non-positive attempts are treated as one.
func (p Policy) Delay(attempts int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	maxDoublings := p.MaxDoublings
	if maxDoublings <= 0 {
		maxDoublings = DefaultMaxDoublings
	}

	n := min(max(attempts, 1), maxDoublings)
	return base * time.Duration(1<<(n-1))
}

// Next returns the instant of the next attempt relative to now.
func (p Policy) Next(now time.Time, attempts int) time.Time {
	return now.Add(p.Delay(attempts))
}

// Delay applies the default policy.
func Delay(attempts int) time.Duration {
	return Default().Delay(attempts)
}
