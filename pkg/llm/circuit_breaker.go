package llm

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of the embedding circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	// BreakerProbing lets exactly one request through to test the endpoint.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the embedding circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive transient failures that opens
	// the breaker. Zero disables the breaker.
	Threshold int
	Cooldown  time.Duration
}

// DefaultBreakerConfig returns the breaker settings used by main.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Breaker stops calling an embedding endpoint that keeps failing so that
// card writes and searches fail fast instead of waiting on retries.
type Breaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	state     BreakerState
	now       func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// Allow reports whether a request may be sent. A rejected request gets an
// *EmbeddingError of kind ErrorKindUnavailable.
func (b *Breaker) Allow() error {
	if b == nil || b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = BreakerProbing
			return nil
		}
		return &EmbeddingError{
			Kind:    ErrorKindUnavailable,
			Message: fmt.Sprintf("endpoint disabled after %d consecutive failures", b.failures),
		}
	default:
		return &EmbeddingError{Kind: ErrorKindUnavailable, Message: "endpoint is being probed"}
	}
}

// Record feeds the outcome of an allowed request back into the breaker.
// Only transient failures count; a rejected request still proves the
// endpoint is reachable.
func (b *Breaker) Record(err error) {
	if b == nil || b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !isTransient(err) {
		b.failures = 0
		b.state = BreakerClosed
		return
	}

	b.failures++
	if b.state == BreakerProbing || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func isTransient(err error) bool {
	return ClassifyError(err, "").Retryable
}
