package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrOpen is returned by Breaker.Allow while the breaker is open.
var ErrOpen = errors.New("circuit open")

// State is a breaker state.
type State int

const (
	Closed   State = iota // calls pass
	Open                  // calls are refused until the cooldown ends
	HalfOpen              // calls pass; one failure reopens
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig configures a Breaker.  Zero fields take the values of
// DefaultBreakerConfig.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker.
	Threshold int
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
	// Probes is the number of successes in a row that closes a
	// half-open breaker.
	Probes int
	// OnChange observes transitions.  It runs with the breaker locked.
	OnChange func(from, to State)
	Clock    clock.Clock
}

// DefaultBreakerConfig opens after 5 failures for 30s and closes after
// 2 good probes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, Probes: 2}
}

// Breaker counts consecutive failures of an operation whose outcome is
// known only some time after it starts, such as a worker's boot.  Callers
// ask Allow before starting and Record once the outcome is in.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Breaker{cfg: cfg}
}

// Allow returns nil when a call may start, or an error wrapping ErrOpen.
// An open breaker whose cooldown has passed turns half-open here.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return nil
	}
	left := b.cfg.Cooldown - b.cfg.Clock.Since(b.openedAt)
	if left <= 0 {
		b.successes = 0
		b.set(HalfOpen)
		return nil
	}
	return fmt.Errorf("%w after %d failures; next try in %s",
		ErrOpen, b.failures, left.Truncate(time.Millisecond))
}

// Record reports the outcome of a call that Allow admitted.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
			b.openedAt = b.cfg.Clock.Now()
			b.set(Open)
		}
		return
	}

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.failures = 0
			b.set(Closed)
		}
	}
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.successes = 0, 0
	b.set(Closed)
}

// set must be called with b.mu held.
func (b *Breaker) set(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(from, to)
	}
}
