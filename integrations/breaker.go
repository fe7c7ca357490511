package integrations

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Observer receives per-call outcomes. *metrics.Collector satisfies it.
type Observer interface {
	ObserveAPICall(service, operation, outcome string, seconds float64)
	SetBreakerState(name string, state float64)
}

type nopObserver struct{}

func (nopObserver) ObserveAPICall(string, string, string, float64) {}
func (nopObserver) SetBreakerState(string, float64)                {}

// NewBreaker builds the circuit breaker shared by every tenant's client for
// one provider. Only transport errors and 5xx responses count as failures;
// 401/404 are answers, not outages.
func NewBreaker(name string, logger *zap.Logger, obs Observer) *gobreaker.CircuitBreaker {
	if obs == nil {
		obs = nopObserver{}
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if appErr, ok := apperr.As(err); ok {
				return appErr.StatusCode < http.StatusInternalServerError
			}
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			obs.SetBreakerState(name, float64(to))
		},
	})
}

// call runs fn through the breaker under a bounded deadline and records the
// outcome.
func call[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, obs Observer, timeout time.Duration, service, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	obs.ObserveAPICall(service, operation, outcome(err), time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, apperr.NewInvalidRequest(service, http.StatusServiceUnavailable, "circuit open").WithCause(err)
		}
		return zero, err
	}
	return result.(T), nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if appErr, ok := apperr.As(err); ok {
		return string(appErr.Kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
