package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/shared"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes a [BreakerStore].
type BreakerConfig struct {
	MaxRequests      uint32        // Requests allowed through while half-open
	Interval         time.Duration // Closed-state window after which counts reset; 0 never resets
	Timeout          time.Duration // Time spent open before probing again
	FailureThreshold uint32        // Consecutive failures that open the breaker
}

// DefaultBreakerConfig returns the settings used for remote stores.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerStore guards an [ObjectStore] with a circuit breaker. While open, calls fail fast with
// [shared.ErrServiceUnavailable]. Missing objects do not count as failures.
type BreakerStore struct {
	next    ObjectStore
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore creates a new BreakerStore.
func NewBreakerStore(next ObjectStore, cfg BreakerConfig, logger *log.Logger) *BreakerStore {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "store", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, shared.ErrObjectNotFound) || errors.Is(err, context.Canceled)
		},
	}
	return &BreakerStore{next: next, breaker: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the breaker state name.
func (b *BreakerStore) State() string {
	return b.breaker.State().String()
}

func execute[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	var zero T
	result, err := b.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s: %v", shared.ErrServiceUnavailable, b.next.Name(), err)
		}
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	return result.(T), nil
}

func (b *BreakerStore) Name() string {
	return b.next.Name()
}

func (b *BreakerStore) Exists(ctx context.Context, key string) (bool, error) {
	return execute(b, func() (bool, error) { return b.next.Exists(ctx, key) })
}

func (b *BreakerStore) Get(ctx context.Context, key string) ([]byte, error) {
	return execute(b, func() ([]byte, error) { return b.next.Get(ctx, key) })
}

func (b *BreakerStore) Put(ctx context.Context, key string, data []byte, onProgress ProgressFunc) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, b.next.Put(ctx, key, data, onProgress) })
	return err
}

func (b *BreakerStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return execute(b, func() ([]ObjectInfo, error) { return b.next.List(ctx, prefix) })
}

func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, b.next.Delete(ctx, key) })
	return err
}

func (b *BreakerStore) ContentHash(ctx context.Context, key string) (string, error) {
	return execute(b, func() (string, error) { return b.next.ContentHash(ctx, key) })
}

// PresignURL delegates to the wrapped store when it can presign.
func (b *BreakerStore) PresignURL(ctx context.Context, key string) (string, error) {
	p, ok := b.next.(Presigner)
	if !ok {
		return "", fmt.Errorf("%w: %s cannot presign", shared.ErrNotImplemented, b.next.Name())
	}
	return execute(b, func() (string, error) { return p.PresignURL(ctx, key) })
}
