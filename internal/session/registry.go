// Package session keeps the cart and checkout flow of every client session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/birdfarm-cart/internal/domain/cart"
	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/checkout"
)

// Persisters hands out the cart persister of a session.
type Persisters interface {
	Persister(sessionID string) cart.Persister
}

// Config configures a Registry.
type Config struct {
	// IdleTTL is how long an unused session stays in memory. Its cart is
	// persisted and reloaded on the next request.
	IdleTTL time.Duration
}

type entry struct {
	session  *checkout.Session
	lastUsed time.Time
	// inUse counts requests holding the session; such entries are never
	// evicted.
	inUse int
}

// Registry maps session ids to live checkout sessions.
type Registry struct {
	persisters Persisters
	resolver   checkout.Resolver
	vouchers   catalog.Vouchers
	opts       checkout.Options
	idleTTL    time.Duration
	now        func() time.Time
	lg         *zap.Logger

	loads   singleflight.Group
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a Registry. opts is used for every session; its
// logger is scoped per session.
func NewRegistry(p Persisters, res checkout.Resolver, vouchers catalog.Vouchers, cfg Config, opts checkout.Options) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Registry{
		persisters: p,
		resolver:   res,
		vouchers:   vouchers,
		opts:       opts,
		idleTTL:    cfg.IdleTTL,
		now:        time.Now,
		lg:         lg,
		entries:    make(map[string]*entry),
	}
}

// Acquire returns the session for id, restoring its cart on first use.
// Concurrent first requests for the same id share one load. The session is
// not evicted until release is called; release may be called more than once.
func (r *Registry) Acquire(ctx context.Context, id string) (*checkout.Session, func(), error) {
	for {
		if s, release, ok := r.acquire(id); ok {
			return s, release, nil
		}
		if _, err, _ := r.loads.Do(id, func() (any, error) {
			return nil, r.open(ctx, id)
		}); err != nil {
			return nil, nil, errors.Wrapf(err, "open session %q", id)
		}
	}
}

func (r *Registry) open(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.entries[id]
	r.mu.Unlock()
	if ok {
		return nil
	}

	lg := r.lg.With(zap.String("session", id))
	store, err := cart.Open(ctx, r.persisters.Persister(id), lg)
	if err != nil {
		return err
	}
	opts := r.opts
	opts.Logger = lg
	s := checkout.NewSession(store, r.resolver, r.vouchers, opts)

	r.mu.Lock()
	r.entries[id] = &entry{session: s, lastUsed: r.now()}
	r.mu.Unlock()
	lg.Debug("Session opened", zap.Int("items", store.Snapshot().Len()))
	return nil
}

func (r *Registry) acquire(id string) (*checkout.Session, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil, false
	}
	e.inUse++
	e.lastUsed = r.now()
	release := sync.OnceFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		e.inUse--
		e.lastUsed = r.now()
	})
	return e.session, release, true
}

// Len returns the number of sessions in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// evict closes sessions idle for longer than the TTL that no request holds.
func (r *Registry) evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entries {
		if e.inUse == 0 && now.Sub(e.lastUsed) >= r.idleTTL {
			e.session.Close()
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// StartCleanup evicts idle sessions every half TTL until ctx is cancelled.
func (r *Registry) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.idleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := r.evict(now); n > 0 {
					r.lg.Debug("Evicted idle sessions", zap.Int("count", n))
				}
			}
		}
	}()
}

// Close drops all sessions.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		e.session.Close()
		delete(r.entries, id)
	}
}
