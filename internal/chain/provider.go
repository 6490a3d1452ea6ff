package chain

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrSnapshotNotFound is returned when a provider has no chain for the
// requested (symbol, expiration) pair.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Provider supplies normalized chain snapshots to the scan pipeline.
//
// Implementations own retry, backoff, and caching; the pipeline assumes
// returned snapshots are already normalized (invalid quotes pre-filtered or
// flagged) and treats them as immutable.
type Provider interface {
	// GetSnapshot returns the chain snapshot for one (symbol, expiration) pair.
	GetSnapshot(ctx context.Context, symbol, expiration string) (*Snapshot, error)

	// GetExpirations lists the expirations available for a symbol,
	// in ascending date order.
	GetExpirations(ctx context.Context, symbol string) ([]string, error)
}

// CircuitBreakerProvider wraps a Provider with circuit breaker functionality
// so a misbehaving upstream cannot stall a scan across many symbols.
type CircuitBreakerProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerProvider implements Provider at compile time.
var _ Provider = (*CircuitBreakerProvider)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerProvider creates a CircuitBreakerProvider with sensible defaults.
func NewCircuitBreakerProvider(provider Provider, logger *logrus.Logger) *CircuitBreakerProvider {
	return NewCircuitBreakerProviderWithSettings(provider, logger, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerProviderWithSettings creates a CircuitBreakerProvider with custom settings.
func NewCircuitBreakerProviderWithSettings(
	provider Provider,
	logger *logrus.Logger,
	settings CircuitBreakerSettings,
) *CircuitBreakerProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "SnapshotProviderCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerProvider{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetSnapshot wraps the underlying provider call with the circuit breaker.
func (c *CircuitBreakerProvider) GetSnapshot(ctx context.Context, symbol, expiration string) (*Snapshot, error) {
	return execBreaker(c.breaker, func() (*Snapshot, error) {
		return c.provider.GetSnapshot(ctx, symbol, expiration)
	})
}

// GetExpirations wraps the underlying provider call with the circuit breaker.
func (c *CircuitBreakerProvider) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	return execBreaker(c.breaker, func() ([]string, error) {
		return c.provider.GetExpirations(ctx, symbol)
	})
}
