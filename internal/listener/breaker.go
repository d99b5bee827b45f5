package listener

import (
	"errors"
	"sync"
	"time"

	"ton-escrow-ledger-go/internal/metrics"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the indexer breaker rejects calls
var ErrCircuitOpen = errors.New("indexer circuit breaker is open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker stops hammering the indexer after repeated fetch failures. After
// resetTimeout one trial fetch is let through; its result closes or reopens
// the breaker.
type breaker struct {
	mu            sync.Mutex
	state         BreakerState
	failures      int
	threshold     int
	resetTimeout  time.Duration
	lastFailureAt time.Time
	now           func() time.Time
}

func newBreaker(threshold int, resetTimeout time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &breaker{
		state:        BreakerClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

func (b *breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.lastFailureAt) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.setState(BreakerHalfOpen)
	}
	return nil
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.setState(BreakerClosed)
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailureAt = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.setState(BreakerOpen)
	}
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	metrics.BreakerState.Set(float64(to))
	zap.L().Warn("Indexer circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", b.failures))
}
