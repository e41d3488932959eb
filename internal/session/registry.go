package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultIdleTimeout is how long a session stays in memory after its
	// last request.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultCleanupInterval is how often idle sessions are looked for.
	DefaultCleanupInterval = time.Minute
)

var (
	ErrRegistryClosed = errors.New("session registry closed")
	ErrEmptySession   = errors.New("empty session id")
)

// LoadError reports that a session's snapshot could not be read. No session
// is registered, so the stored snapshot is left untouched.
type LoadError struct {
	SessionID string
	Err       error
}

func (e *LoadError) Error() string {
	return "load session " + e.SessionID + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

type entry struct {
	store      *store.Store
	persister  *store.Persister
	lastAccess atomic.Int64 // unix nanos
}

func (e *entry) touch(now time.Time) {
	e.lastAccess.Store(now.UnixNano())
}

// Registry holds one cart store per session. A session's store is loaded
// from the snapshot store on first use, written back after every change and
// dropped from memory once idle.
type Registry struct {
	kv        storage.SnapshotStore
	codes     store.CodeFinder
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	storeOpts []store.Option

	idleTimeout     time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool

	sfg singleflight.Group // one rehydration per session

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

type Option func(*Registry)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithStoreOptions passes opts to every store the registry creates.
func WithStoreOptions(opts ...store.Option) Option {
	return func(r *Registry) { r.storeOpts = append(r.storeOpts, opts...) }
}

// WithIdleTimeout sets how long an unused session is kept. Zero keeps
// sessions until Close.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

func WithCleanupInterval(d time.Duration) Option {
	return func(r *Registry) { r.cleanupInterval = d }
}

func NewRegistry(kv storage.SnapshotStore, codes store.CodeFinder, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		kv:              kv,
		codes:           codes,
		logger:          logger,
		idleTimeout:     DefaultIdleTimeout,
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
		sessions:        make(map[string]*entry),
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.idleTimeout > 0 && r.cleanupInterval > 0 {
		r.wg.Add(1)
		go r.cleanupLoop()
	}

	return r
}

// Get returns the store for sessionID, rehydrating it if the session is not
// in memory. A snapshot that cannot be read fails with a *LoadError.
func (r *Registry) Get(ctx context.Context, sessionID string) (*store.Store, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}

	r.mu.RLock()
	closed := r.closed
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		e.touch(r.now())
		return e.store, nil
	}

	v, err, _ := r.sfg.Do(sessionID, func() (interface{}, error) {
		return r.open(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Store), nil
}

func (r *Registry) open(ctx context.Context, sessionID string) (*store.Store, error) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		e.touch(r.now())
		return e.store, nil
	}

	key := storage.Key(sessionID)
	logger := r.logger.With().Str("session_id", sessionID).Logger()

	snap, err := store.Rehydrate(ctx, r.kv, key, logger)
	if err != nil {
		logger.Error().Err(err).Msg("session load failed")
		return nil, &LoadError{SessionID: sessionID, Err: err}
	}

	opts := append([]store.Option{store.WithSnapshot(snap)}, r.storeOpts...)
	s := store.New(r.codes, opts...)

	var persistOpts []store.PersisterOption
	if r.metrics != nil {
		persistOpts = append(persistOpts, store.OnWrite(r.metrics.SnapshotWrite))
	}
	p := store.NewPersister(r.kv, key, logger, persistOpts...)
	s.Subscribe(p.Enqueue)

	e = &entry{store: s, persister: p}
	e.touch(r.now())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = p.Close()
		return nil, ErrRegistryClosed
	}
	r.sessions[sessionID] = e
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionOpened()
	}
	logger.Debug().Int("items", len(snap.Items)).Msg("session opened")

	return s, nil
}

// Len is the number of sessions currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle(r.now())
		case <-r.stopCleanup:
			return
		}
	}
}

// evictIdle flushes and drops every session unused since now-idleTimeout.
// An evicted session is rehydrated from storage on its next Get.
func (r *Registry) evictIdle(now time.Time) int {
	cutoff := now.Add(-r.idleTimeout).UnixNano()

	r.mu.Lock()
	var idle []*entry
	for id, e := range r.sessions {
		if e.lastAccess.Load() <= cutoff {
			idle = append(idle, e)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		_ = e.persister.Close()
	}
	if len(idle) > 0 {
		if r.metrics != nil {
			r.metrics.SessionsClosed(len(idle))
		}
		r.logger.Debug().Int("sessions", len(idle)).Msg("evicted idle sessions")
	}
	return len(idle)
}

// Close flushes every session's pending snapshot. Get fails afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	close(r.stopCleanup)
	r.wg.Wait()

	for _, e := range sessions {
		_ = e.persister.Close()
	}
	if r.metrics != nil {
		r.metrics.SessionsClosed(len(sessions))
	}
	r.logger.Info().Int("sessions", len(sessions)).Msg("session registry closed")
	return nil
}
