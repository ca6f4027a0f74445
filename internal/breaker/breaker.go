// Package breaker implements a per-provider circuit breaker.
//
// The breaker is a three-state machine. CLOSED passes calls through while
// counting consecutive failures; at the failure threshold it trips to OPEN
// and fails callers fast for a cooldown period. After the cooldown one trial
// call is admitted (HALF_OPEN): success closes the circuit, failure reopens
// it with a fresh cooldown.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the breaker's position in the state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// OpenError is returned when the breaker rejects a call without invoking
// the wrapped function.
type OpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Name, e.RetryIn.Round(time.Millisecond))
}

// Breaker guards one provider. Thresholds come from configuration; the
// clock is injectable so tests can step time without sleeping.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// New creates a closed breaker with the given failure threshold and
// open-state cooldown.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock overrides the breaker's clock. Test use only.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Execute runs fn through the breaker.
//
// In OPEN state within the cooldown, fn is not invoked and an *OpenError is
// returned. Once the cooldown elapses exactly one caller is admitted as the
// HALF_OPEN trial; concurrent callers keep failing fast until the trial
// resolves. fn's error is returned unwrapped so callers can inspect the
// provider's failure directly.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.record(trial, err == nil)
	return err
}

// admit decides whether a call may proceed, transitioning OPEN → HALF_OPEN
// when the cooldown has elapsed. The returned bool tags the admission as
// the HALF_OPEN trial; only that call's completion may release the trial
// slot.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		waited := b.now().Sub(b.openedAt)
		if waited < b.cooldown {
			return false, &OpenError{Name: b.name, RetryIn: b.cooldown - waited}
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		log.Info().Str("breaker", b.name).Msg("Circuit half-open, admitting trial call")
		return true, nil
	case StateHalfOpen:
		if b.trialInFlight {
			return false, &OpenError{Name: b.name, RetryIn: 0}
		}
		b.trialInFlight = true
		return true, nil
	}
	return false, nil
}

// record applies a call outcome to the state machine.
func (b *Breaker) record(trial, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
		if success {
			log.Info().Str("breaker", b.name).Msg("Circuit closed after successful trial")
			b.state = StateClosed
			b.consecutiveFailures = 0
			return
		}
		b.consecutiveFailures++
		b.state = StateOpen
		b.openedAt = b.now()
		log.Warn().
			Str("breaker", b.name).
			Int("consecutive_failures", b.consecutiveFailures).
			Dur("cooldown", b.cooldown).
			Msg("Circuit reopened after failed trial")
		return
	}

	// Admitted while CLOSED. If the breaker has moved on since — tripped
	// open, or gone half-open with a trial in flight — the outcome is stale
	// and must not touch the trial slot or the state.
	if success {
		if b.state == StateClosed {
			b.consecutiveFailures = 0
		}
		return
	}
	if b.state == StateClosed {
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
			log.Warn().
				Str("breaker", b.name).
				Int("consecutive_failures", b.consecutiveFailures).
				Dur("cooldown", b.cooldown).
				Msg("Circuit opened")
		}
	}
}

// IsOpen reports whether the breaker is currently rejecting calls: true iff
// the state is OPEN and the cooldown has not yet elapsed.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen && b.now().Sub(b.openedAt) < b.cooldown
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset forces the breaker back to CLOSED with a zeroed failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.trialInFlight = false
}
