// Package resilience guards calls to flaky upstreams with a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vulnsight/cverag/pkg/fn"
)

// State is the breaker's position.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls rejected until the cool-down ends
	StateHalfOpen              // a limited number of probes decide
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts tunes a Breaker. Zero fields take DefaultBreakerOpts values.
type BreakerOpts struct {
	// Consecutive failures that open the breaker.
	FailThreshold int
	// Cool-down spent open before probing.
	Timeout time.Duration
	// Concurrent probes admitted while half-open.
	HalfOpenMax int
	// OnStateChange, if set, is called with the lock held on every transition.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts suits a local model server: five straight failures open
// the breaker for thirty seconds.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker stops calling an upstream that keeps failing. A call that fails
// with context.Canceled is not held against the upstream.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	now      func() time.Time
	state    State
	failures int
	probes   int
	openedAt time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the breaker's position, moving open to half-open once the
// cool-down has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}

// currentState must be called with mu held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.setState(StateHalfOpen)
		b.probes = 0
	}
	return b.state
}

// admit reports whether a call may proceed. Must hold mu.
func (b *Breaker) admit() bool {
	switch b.currentState() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			return false
		}
		b.probes++
	}
	return true
}

// record folds a call's outcome into the breaker. Must hold mu.
func (b *Breaker) record(err error) {
	if err == nil {
		if b.state == StateHalfOpen {
			b.setState(StateClosed)
		}
		b.failures = 0
		return
	}
	if errors.Is(err, context.Canceled) {
		if b.state == StateHalfOpen {
			b.probes--
		}
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
		b.setState(StateOpen)
		b.openedAt = b.now()
		b.failures = 0
		b.probes = 0
	}
}

// Call runs f unless the breaker is open, in which case it returns
// ErrCircuitOpen without calling f.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	_, err := CallResult(b, ctx, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, f(ctx))
	}).Unwrap()
	return err
}

// CallResult is Call for functions returning fn.Result.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	b.mu.Lock()
	ok := b.admit()
	b.mu.Unlock()
	if !ok {
		return fn.Err[T](ErrCircuitOpen)
	}

	res := f(ctx)
	_, err := res.Unwrap()

	b.mu.Lock()
	b.record(err)
	b.mu.Unlock()
	return res
}

// BreakerStage guards every invocation of stage with b.
func BreakerStage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return CallResult(b, ctx, func(ctx context.Context) fn.Result[Out] {
			return stage(ctx, in)
		})
	}
}
