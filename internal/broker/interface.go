package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Broker defines the interface for interacting with the brokerage
type Broker interface {
	// Session
	Login(ctx context.Context, login, password string) (string, error)

	// Account operations
	GetPositions(ctx context.Context, token string) ([]PositionItem, error)

	// Order placement
	PlaceOrder(ctx context.Context, token string, payload OrderPayload, dryRun bool) (*OrderResponse, error)
}

// Ensure TastytradeAPI implements Broker at compile time.
var _ Broker = (*TastytradeAPI)(nil)

// isPermanentAPIError checks if an error is a permanent API error that the
// circuit breaker should not count as a broker outage.
func isPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// Consider 4xx errors as permanent (except 429 Too Many Requests which is retryable)
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Status >= 400 && authErr.Status < 500 && authErr.Status != 429
	}
	return false
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
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

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after a majority of a handful of calls fail.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  1,
	Interval:     10 * time.Minute,
	Timeout:      2 * time.Minute,
	MinRequests:  3,
	FailureRatio: 0.6,
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with default settings
func NewCircuitBreakerBroker(broker Broker, logger logrus.FieldLogger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, DefaultCircuitBreakerSettings, logger)
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings,
	logger logrus.FieldLogger) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "TastytradeCircuitBreaker",
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
		// Rejections such as bad credentials say nothing about broker health.
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanentAPIError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
					Warn("circuit breaker state changed")
			}
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Login wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) Login(ctx context.Context, login, password string) (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.Login(ctx, login, password)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context, token string) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.GetPositions(ctx, token)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, token string, payload OrderPayload,
	dryRun bool) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) {
		return b.PlaceOrder(ctx, token, payload, dryRun)
	})
}
