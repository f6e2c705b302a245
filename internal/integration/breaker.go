package integration

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker is a closed/open/half-open circuit breaker around a dependency.
// While open, calls fail fast with a NetworkError coded CIRCUIT_OPEN.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker trips after threshold consecutive failures and probes again
// after recovery. Client-side API errors (4xx) and context cancellation do
// not count as failures.
func NewBreaker(name string, threshold uint32, recovery time.Duration, logger *zap.Logger) *Breaker {
	if threshold == 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     recovery,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: countsAsSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// Do runs fn through the breaker
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return NewNetworkError(CodeCircuitOpen, "circuit "+b.cb.Name()+" is open", err)
	}
	return err
}

// State returns "closed", "open" or "half-open"
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindConfiguration:
			return true
		case KindAPI:
			return e.StatusCode < 500
		}
	}
	return false
}
