package payment

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerSettings tunes a Breaker.
type BreakerSettings struct {
	// MaxHalfOpen is how many trial calls pass while half-open, and how
	// many must succeed to close again.
	MaxHalfOpen uint32
	// OpenFor is how long the breaker stays open before a trial.
	OpenFor time.Duration
	// MinRequests and FailureRatio decide when a closed breaker trips.
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings trips after 60% failures over at least 3 calls.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{MaxHalfOpen: 5, OpenFor: 60 * time.Second, MinRequests: 3, FailureRatio: 0.6}
}

// Breaker stops hammering a provider that keeps failing.  Only errors the
// caller classifies as provider faults count as failures.
type Breaker struct {
	name string
	set  BreakerSettings
	log  *slog.Logger
	now  func() time.Time

	mu         sync.Mutex
	state      breakerState
	generation uint64
	requests   uint32
	failures   uint32
	successes  uint32
	expiry     time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, set BreakerSettings, log *slog.Logger) *Breaker {
	if set.MaxHalfOpen == 0 {
		set.MaxHalfOpen = 1
	}
	if set.OpenFor == 0 {
		set.OpenFor = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{name: name, set: set, log: log, now: time.Now}
}

// Execute runs fn unless the breaker is open.  countable decides whether
// an error from fn is a provider fault.
func (b *Breaker) Execute(fn func() error, countable func(error) bool) error {
	gen, err := b.before()
	if err != nil {
		return err
	}
	err = fn()
	b.after(gen, err == nil || !countable(err))
	return err
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		if b.now().Before(b.expiry) {
			return 0, ErrCircuitOpen
		}
		b.setState(stateHalfOpen)
	case stateHalfOpen:
		if b.requests >= b.set.MaxHalfOpen {
			return 0, ErrCircuitOpen
		}
	}
	b.requests++
	return b.generation, nil
}

func (b *Breaker) after(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		return
	}
	if ok {
		b.successes++
		if b.state == stateHalfOpen && b.successes >= b.set.MaxHalfOpen {
			b.setState(stateClosed)
		}
		return
	}
	b.failures++
	switch b.state {
	case stateHalfOpen:
		b.setState(stateOpen)
	case stateClosed:
		if b.requests >= b.set.MinRequests && float64(b.failures)/float64(b.requests) >= b.set.FailureRatio {
			b.setState(stateOpen)
		}
	}
}

func (b *Breaker) setState(s breakerState) {
	if b.state == s {
		return
	}
	prev := b.state
	b.state = s
	b.generation++
	b.requests, b.failures, b.successes = 0, 0, 0
	if s == stateOpen {
		b.expiry = b.now().Add(b.set.OpenFor)
	}
	b.log.Warn("circuit breaker state changed",
		slog.String("breaker", b.name),
		slog.String("from", prev.String()),
		slog.String("to", s.String()))
}
