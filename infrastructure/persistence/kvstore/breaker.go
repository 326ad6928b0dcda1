package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forumsearch/application/ports"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures the circuit breaker around a store
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
	CallTimeout  time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerConfig returns breaker settings suited to a remote store
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  3,
		Interval:     30 * time.Second,
		OpenTimeout:  10 * time.Second,
		CallTimeout:  500 * time.Millisecond,
		MinRequests:  10,
		FailureRatio: 0.5,
	}
}

// BreakerStore guards a remote store with a circuit breaker and a per-call
// timeout. While the circuit is open calls fail fast with ports.ErrUnavailable.
// ErrNotFound counts as success.
type BreakerStore struct {
	inner   ports.Store
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewBreakerStore wraps inner with a circuit breaker
func NewBreakerStore(inner ports.Store, cfg BreakerConfig, logger *zap.Logger) *BreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ports.ErrNotFound)
		},
	}

	return &BreakerStore{
		inner:   inner,
		cb:      gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.CallTimeout,
	}
}

// State returns the breaker state
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *BreakerStore) execute(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	v, err := s.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	switch {
	case err == nil, errors.Is(err, ports.ErrNotFound), errors.Is(err, ports.ErrUnavailable):
		return v, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: circuit %s: %v", ports.ErrUnavailable, s.cb.Name(), err)
	default:
		return nil, fmt.Errorf("%w: %v", ports.ErrUnavailable, err)
	}
}

// Get retrieves a value
func (s *BreakerStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return s.inner.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Set stores a value
func (s *BreakerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.inner.Set(ctx, key, value, ttl)
	})
	return err
}

// Delete removes a value
func (s *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := s.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.inner.Delete(ctx, key)
	})
	return err
}

// Incr increments a counter. It returns errors.ErrUnsupported when the
// wrapped store has no atomic counter.
func (s *BreakerStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	counter, ok := s.inner.(ports.Counter)
	if !ok {
		return 0, errors.ErrUnsupported
	}
	v, err := s.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return counter.Incr(ctx, key, ttl)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Ping checks the wrapped store through the breaker
func (s *BreakerStore) Ping(ctx context.Context) error {
	pinger, ok := s.inner.(ports.Pinger)
	if !ok {
		return nil
	}
	_, err := s.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, pinger.Ping(ctx)
	})
	return err
}
