package storage

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerStore guards a remote SnapshotStore with a circuit breaker so an
// unavailable backend fails fast instead of stalling every persist.
// A snapshot miss counts as success.
type BreakerStore struct {
	inner SnapshotStore
	cb    *gobreaker.CircuitBreaker[[]byte]
}

// BreakerSettings tunes when the breaker opens and how long it stays open.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

func NewBreakerStore(inner SnapshotStore, name string, settings BreakerSettings, logger zerolog.Logger) *BreakerStore {
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("snapshot store breaker changed state")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrSnapshotMiss)
		},
	})

	return &BreakerStore{inner: inner, cb: cb}
}

func (b *BreakerStore) Get(ctx context.Context, key string) ([]byte, error) {
	return b.cb.Execute(func() ([]byte, error) {
		return b.inner.Get(ctx, key)
	})
}

func (b *BreakerStore) Set(ctx context.Context, key string, data []byte) error {
	_, err := b.cb.Execute(func() ([]byte, error) {
		return nil, b.inner.Set(ctx, key, data)
	})
	return err
}

func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() ([]byte, error) {
		return nil, b.inner.Delete(ctx, key)
	})
	return err
}

// State exposes the breaker state for health reporting.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

// Check fails while the breaker is open.
func (b *BreakerStore) Check() error {
	if b.cb.State() == gobreaker.StateOpen {
		return errors.Errorf("%s breaker open", b.cb.Name())
	}
	return nil
}
