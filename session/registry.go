package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"ops-console/domain"
	"ops-console/layout"
	"ops-console/metrics"
	"ops-console/storage"
)

const (
	// DefaultLoadTimeout bounds one layout load.
	DefaultLoadTimeout = 10 * time.Second
	// DefaultIdleTTL is how long an unused session stays in memory.
	DefaultIdleTTL = 30 * time.Minute
)

// Registry opens one Session per user on first use.
type Registry struct {
	store       storage.Gateway
	defaults    func() []domain.Item
	autosave    bool
	retry       *RetryQueue
	logger      *log.Logger
	clock       clockwork.Clock
	loadTimeout time.Duration
	idleTTL     time.Duration

	mu        sync.Mutex
	sessions  map[string]*entry
	lastSweep time.Time
}

type entry struct {
	// mu serialises loads of one user.
	mu       sync.Mutex
	s        atomic.Pointer[Session]
	fallback bool

	lastUsed time.Time // guarded by Registry.mu
}

type RegistryConfig struct {
	Defaults func() []domain.Item
	Autosave bool
	Retry    *RetryQueue
	Logger   *log.Logger
	// LoadTimeout bounds a layout load. Zero means DefaultLoadTimeout.
	LoadTimeout time.Duration
	// IdleTTL evicts sessions unused for that long, unless they hold unsaved
	// changes. Zero means DefaultIdleTTL, negative keeps sessions forever.
	IdleTTL time.Duration
	Clock   clockwork.Clock
}

func NewRegistry(store storage.Gateway, cfg RegistryConfig) *Registry {
	if cfg.Defaults == nil {
		cfg.Defaults = layout.DefaultItems
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	r := &Registry{
		store:       store,
		defaults:    cfg.Defaults,
		autosave:    cfg.Autosave,
		retry:       cfg.Retry,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		loadTimeout: cfg.LoadTimeout,
		idleTTL:     cfg.IdleTTL,
		sessions:    make(map[string]*entry),
	}
	if r.retry != nil {
		r.retry.OnSaved(func(userID string, gen uint64) {
			if s := r.lookup(userID); s != nil {
				s.markSaved(gen)
			}
		})
	}
	return r
}

// Get returns the session of userID, loading the stored layout the first
// time. Loading never fails; unavailable storage yields the defaults. A
// session opened on defaults because the fetch failed is loaded again on the
// next Get, as long as no action has changed it. Cancelling ctx does not
// abort a load other callers may be waiting on.
func (r *Registry) Get(ctx context.Context, userID string) *Session {
	now := r.clock.Now()
	r.mu.Lock()
	r.sweepLocked(now)
	e, ok := r.sessions[userID]
	if !ok {
		e = &entry{}
		r.sessions[userID] = e
	}
	e.lastUsed = now
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.s.Load()
	if cur != nil && !(e.fallback && cur.untouched()) {
		return cur
	}

	items, settled := r.load(ctx, userID)
	switch {
	case cur == nil:
	case !settled:
		return cur
	case !cur.untouched():
		// an action landed on the fallback session while loading
		e.fallback = false
		return cur
	default:
		r.logger.WithField("user", userID).Info("stored layout reachable again, reloaded session")
	}
	e.fallback = !settled
	s := New(userID, items, r.store, r.sessionOptions()...)
	e.s.Store(s)
	return s
}

func (r *Registry) load(ctx context.Context, userID string) ([]domain.Item, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
	defer cancel()
	return layout.LoadSettled(ctx, sourceCounter{r.store}, userID, r.defaults(), r.logger)
}

func (r *Registry) sessionOptions() []Option {
	opts := []Option{WithAutosave(r.autosave), WithLogger(r.logger)}
	if r.retry != nil {
		opts = append(opts, WithRetryQueue(r.retry))
	}
	return opts
}

// sweepLocked evicts idle sessions without unsaved changes. It runs at most
// once per idle period.
func (r *Registry) sweepLocked(now time.Time) {
	if r.idleTTL < 0 || now.Sub(r.lastSweep) < r.idleTTL {
		return
	}
	r.lastSweep = now
	for userID, e := range r.sessions {
		if now.Sub(e.lastUsed) < r.idleTTL {
			continue
		}
		if s := e.s.Load(); s != nil && s.Dirty() {
			continue
		}
		delete(r.sessions, userID)
	}
}

// Len is the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Drop forgets the session of userID so the next Get reloads it.
func (r *Registry) Drop(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

func (r *Registry) Defaults() []domain.Item {
	return r.defaults()
}

func (r *Registry) lookup(userID string) *Session {
	r.mu.Lock()
	e, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return e.s.Load()
}

// sourceCounter records where each loaded layout came from.
type sourceCounter struct {
	src storage.Gateway
}

func (c sourceCounter) FetchLayout(ctx context.Context, userID string) ([]domain.Item, error) {
	items, err := c.src.FetchLayout(ctx, userID)
	switch {
	case err == nil && len(items) > 0:
		metrics.LayoutLoads.WithLabelValues("stored").Inc()
	case errors.Is(err, storage.ErrNoConfig) || err == nil:
		metrics.LayoutLoads.WithLabelValues("defaults").Inc()
	default:
		metrics.LayoutLoads.WithLabelValues("fallback").Inc()
	}
	return items, err
}
