package store

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
)

// WriteTimeout bounds a single snapshot write.
const WriteTimeout = 2 * time.Second

// Rehydrate loads the snapshot stored under key. A missing or malformed
// snapshot yields an empty one. Any other load failure is returned so the
// caller does not start over a snapshot it could not read.
func Rehydrate(ctx context.Context, kv storage.SnapshotStore, key string, logger zerolog.Logger) (Snapshot, error) {
	empty := Snapshot{Items: []domain.LineItem{}}

	data, err := kv.Get(ctx, key)
	if errors.Is(err, storage.ErrSnapshotMiss) {
		return empty, nil
	}
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "load snapshot")
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("discarding malformed snapshot")
		return empty, nil
	}
	return snap, nil
}

// Persister writes the persisted part of a cart to a SnapshotStore after
// each change. Writes happen on a background goroutine; only the latest
// pending state is written, and a failed write leaves the in-memory cart
// untouched.
type Persister struct {
	kv      storage.SnapshotStore
	key     string
	logger  zerolog.Logger
	onWrite func(error)

	pending chan domain.CartState
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex // guards closed against in-flight Enqueue calls
	closed bool
}

type PersisterOption func(*Persister)

// OnWrite registers a callback invoked with the result of every write.
func OnWrite(fn func(error)) PersisterOption {
	return func(p *Persister) { p.onWrite = fn }
}

func NewPersister(kv storage.SnapshotStore, key string, logger zerolog.Logger, opts ...PersisterOption) *Persister {
	p := &Persister{
		kv:      kv,
		key:     key,
		logger:  logger,
		onWrite: func(error) {},
		pending: make(chan domain.CartState, 1),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.writeLoop()

	return p
}

// Enqueue schedules state for writing, replacing any state not yet written.
// It never blocks on the backend and can be used directly as a Listener.
// After Close the state is written synchronously so late changes are kept.
func (p *Persister) Enqueue(state domain.CartState) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.wg.Wait()
		p.write(state)
		return
	}
	defer p.mu.RUnlock()

	for {
		select {
		case p.pending <- state:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

func (p *Persister) writeLoop() {
	defer p.wg.Done()

	for {
		select {
		case state := <-p.pending:
			p.write(state)
		case <-p.stop:
			// flush whatever is still queued
			select {
			case state := <-p.pending:
				p.write(state)
			default:
			}
			return
		}
	}
}

// write stores state, or removes the key once the cart is empty since an
// absent snapshot rehydrates to the same empty cart.
func (p *Persister) write(state domain.CartState) {
	ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
	defer cancel()

	var err error
	if len(state.Items) == 0 {
		err = p.kv.Delete(ctx, p.key)
	} else {
		var data []byte
		if data, err = EncodeSnapshot(SnapshotOf(state)); err == nil {
			err = p.kv.Set(ctx, p.key, data)
		}
	}
	if err != nil {
		p.logger.Error().Err(err).Str("key", p.key).Msg("snapshot write failed")
	}
	p.onWrite(err)
}

// Close flushes the last pending state and stops the writer.
func (p *Persister) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.stop)
		p.wg.Wait()
	})
	return nil
}
