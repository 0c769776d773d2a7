package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/birdfarm-cart/internal/domain/cart"
	"github.com/xenking/birdfarm-cart/internal/domain/checkout"
	"github.com/xenking/birdfarm-cart/internal/domain/resolver"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
)

// --- Mock implementations ---

type memPersisters struct {
	mu      sync.Mutex
	data    map[string][]byte
	loads   atomic.Int32
	loadErr error
	// delay slows loads down so concurrent first requests overlap.
	delay time.Duration
}

func (m *memPersisters) Persister(id string) cart.Persister {
	return &memPersister{parent: m, id: id}
}

type memPersister struct {
	parent *memPersisters
	id     string
}

func (p *memPersister) Load(_ context.Context) ([]byte, error) {
	p.parent.loads.Add(1)
	time.Sleep(p.parent.delay)
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	if p.parent.loadErr != nil {
		return nil, p.parent.loadErr
	}
	data, ok := p.parent.data[p.id]
	if !ok {
		return nil, cart.ErrNoSnapshot
	}
	return data, nil
}

func (p *memPersister) Save(_ context.Context, data []byte) error {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	p.parent.data[p.id] = append([]byte(nil), data...)
	return nil
}

type emptyResolver struct{}

func (emptyResolver) Resolve(_ context.Context, snap cart.Snapshot) (*resolver.Result, error) {
	return &resolver.Result{Snapshot: snap}, nil
}

type noVouchers struct{}

func (noVouchers) ListVouchers(context.Context) ([]voucher.Voucher, error) {
	return nil, nil
}

func newRegistry(p *memPersisters, ttl time.Duration) *Registry {
	return NewRegistry(p, emptyResolver{}, noVouchers{}, Config{IdleTTL: ttl}, checkout.Options{})
}

// get acquires id and releases it at the end of the test.
func get(t *testing.T, r *Registry, id string) (*checkout.Session, error) {
	t.Helper()
	s, release, err := r.Acquire(context.Background(), id)
	if err == nil {
		t.Cleanup(release)
	}
	return s, err
}

// --- Tests ---

func TestAcquire_ReusesSession(t *testing.T) {
	p := &memPersisters{data: map[string][]byte{}}
	r := newRegistry(p, time.Hour)

	a, err := get(t, r, "s1")
	require.NoError(t, err)
	b, err := get(t, r, "s1")
	require.NoError(t, err)
	other, err := get(t, r, "s2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int32(2), p.loads.Load())
}

func TestAcquire_ConcurrentFirstUseLoadsOnce(t *testing.T) {
	p := &memPersisters{data: map[string][]byte{}, delay: 50 * time.Millisecond}
	r := newRegistry(p, time.Hour)

	var (
		wg       sync.WaitGroup
		sessions [10]*checkout.Session
	)
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := get(t, r, "s1")
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.loads.Load())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestAcquire_RestoresPersistedCart(t *testing.T) {
	p := &memPersisters{data: map[string][]byte{
		"s1": []byte(`{"birds":["b1"],"nests":["n1"]}`),
	}}
	r := newRegistry(p, time.Hour)

	s, err := get(t, r, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, s.Store().Snapshot().Birds)
	assert.Equal(t, []string{"n1"}, s.Store().Snapshot().Nests)
}

func TestAcquire_LoadFailureIsNotCached(t *testing.T) {
	p := &memPersisters{data: map[string][]byte{}, loadErr: errors.New("redis down")}
	r := newRegistry(p, time.Hour)

	_, err := get(t, r, "s1")
	require.Error(t, err)
	assert.Zero(t, r.Len())

	p.mu.Lock()
	p.loadErr = nil
	p.mu.Unlock()

	_, err = get(t, r, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestEvict(t *testing.T) {
	p := &memPersisters{data: map[string][]byte{}}
	r := newRegistry(p, time.Minute)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	idle, release, err := r.Acquire(ctx, "idle")
	require.NoError(t, err)
	require.NoError(t, idle.Store().AddBird(ctx, "b1"))
	release()

	now = now.Add(45 * time.Second)
	_, release, err = r.Acquire(ctx, "recent")
	require.NoError(t, err)
	release()

	assert.Equal(t, 1, r.evict(now.Add(30*time.Second)))
	assert.Equal(t, 1, r.Len())

	// The evicted cart survives in storage.
	again, err := get(t, r, "idle")
	require.NoError(t, err)
	assert.NotSame(t, idle, again)
	assert.Equal(t, []string{"b1"}, again.Store().Snapshot().Birds)
}

func TestEvict_SkipsSessionsInUse(t *testing.T) {
	p := &memPersisters{data: map[string][]byte{}}
	r := newRegistry(p, time.Minute)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	held, release, err := r.Acquire(ctx, "s1")
	require.NoError(t, err)

	// A request hanging far past the TTL keeps its session.
	now = now.Add(10 * time.Minute)
	assert.Zero(t, r.evict(now))

	same, releaseSame, err := r.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, held, same)
	assert.Equal(t, int32(1), p.loads.Load())

	releaseSame()
	assert.Zero(t, r.evict(now), "still held by the first request")

	// Releasing twice must not drop the count below zero.
	release()
	release()
	assert.Zero(t, r.evict(now.Add(30*time.Second)), "release refreshes last use")
	assert.Equal(t, 1, r.evict(now.Add(time.Minute)))
	assert.Zero(t, r.Len())
}

func TestClose(t *testing.T) {
	r := newRegistry(&memPersisters{data: map[string][]byte{}}, time.Hour)
	_, err := get(t, r, "s1")
	require.NoError(t, err)

	r.Close()
	assert.Zero(t, r.Len())
}
