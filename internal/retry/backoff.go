// Package retry paces repeated attempts.  The supervisor respawns
// crashed workers through a Backoff guarded by a Breaker, and the SSH
// exposure reconnects to its gateway through a Backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
)

// PermanentError stops a Backoff loop at once.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.  Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Backoff waits exponentially longer between attempts.  Zero fields
// fall back to: InitialDelay 1s, MaxDelay 60s, Multiplier 2.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxAttempts bounds the attempts, the first included.  0 retries
	// until the context ends.
	MaxAttempts int
	// Jitter spreads each wait by up to ±25%.
	Jitter bool
	Clock  clock.Clock
}

// DefaultBackoff allows 10 attempts, 1s to 60s apart, with jitter.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		MaxAttempts:  10,
		Jitter:       true,
	}
}

// Delay is the wait after the given failed attempt (1-based), before
// jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	d, max, mult := b.InitialDelay, b.MaxDelay, b.Multiplier
	if d <= 0 {
		d = time.Second
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	if mult <= 0 {
		mult = 2
	}
	for i := 1; i < attempt && d < max; i++ {
		d = time.Duration(float64(d) * mult)
	}
	if d > max {
		d = max
	}
	return d
}

// Do calls fn until it returns nil, returns a Permanent error, runs out
// of attempts, or ctx ends.  attempt starts at 1.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	clk := b.Clock
	if clk == nil {
		clk = clock.New()
	}
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		switch {
		case err == nil:
			return nil
		case IsPermanent(err):
			return errors.Unwrap(err)
		case b.MaxAttempts > 0 && attempt >= b.MaxAttempts:
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		wait := b.Delay(attempt)
		if b.Jitter {
			wait = jitter(wait)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-clk.After(wait):
		}
	}
}

// jitter returns d ± 25%, never below a millisecond.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) / 4
	j := time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
	if j < time.Millisecond {
		j = time.Millisecond
	}
	return j
}
