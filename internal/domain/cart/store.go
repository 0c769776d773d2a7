// Package cart holds the per-session selection of birds and nests.
//
// A Store keeps two ordered, duplicate-free id collections. Every effective
// mutation is written through a Persister before it becomes visible, and
// subscribed observers are notified in commit order once the write
// succeeded. Mutations that change nothing neither persist nor notify.
package cart

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

var (
	// ErrNoSnapshot is returned by a Persister when nothing was saved yet.
	ErrNoSnapshot = errors.New("no persisted cart")
	// ErrEmptyID is returned when a mutation is given an empty product id.
	ErrEmptyID = errors.New("empty product id")
)

// Persister stores the encoded snapshot under a fixed key.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Observer receives the snapshot produced by a committed mutation.
// Observers must not mutate the store they are subscribed to.
type Observer func(Snapshot)

// Store is the cart of a single client session.
type Store struct {
	persister Persister
	lg        *zap.Logger

	// mu guards the cart contents and the observer set.
	mu        sync.Mutex
	snap      Snapshot
	observers map[uint64]Observer
	nextID    uint64

	// commits counts committed mutations; notified trails it as observers
	// are called, so notifications follow commit order.
	commits    uint64
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	notified   uint64
}

// Open restores the cart saved by p. A missing or malformed snapshot yields
// an empty cart; only a failure to reach the storage is returned.
func Open(ctx context.Context, p Persister, lg *zap.Logger) (*Store, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	s := &Store{
		persister: p,
		lg:        lg,
		snap:      Snapshot{}.clone(),
		observers: make(map[uint64]Observer),
	}
	s.notifyCond = sync.NewCond(&s.notifyMu)

	data, err := p.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		return s, nil
	case err != nil:
		return nil, errors.Wrap(err, "load cart")
	}

	snap, err := Decode(data)
	if err != nil {
		lg.Warn("Discarding malformed cart snapshot", zap.Error(err), zap.Int("bytes", len(data)))
		return s, nil
	}
	s.snap = snap.clone()
	return s, nil
}

// Snapshot returns the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// AddBird inserts a bird id unless it is already present.
func (s *Store) AddBird(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return s.mutate(ctx, func(c Snapshot) Snapshot {
		c.Birds = insert(c.Birds, id)
		return c
	})
}

// AddNest inserts a nest id unless it is already present.
func (s *Store) AddNest(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return s.mutate(ctx, func(c Snapshot) Snapshot {
		c.Nests = insert(c.Nests, id)
		return c
	})
}

// RemoveBird removes a bird id if present.
func (s *Store) RemoveBird(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return s.mutate(ctx, func(c Snapshot) Snapshot {
		c.Birds = remove(c.Birds, id)
		return c
	})
}

// RemoveNest removes a nest id if present.
func (s *Store) RemoveNest(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return s.mutate(ctx, func(c Snapshot) Snapshot {
		c.Nests = remove(c.Nests, id)
		return c
	})
}

// Clear empties both collections.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, func(Snapshot) Snapshot {
		return Snapshot{}.clone()
	})
}

// Merge appends the ids of other that are not in the cart yet, keeping the
// existing order first. It is used to fold an anonymous cart into the
// cart of a user who just signed in.
func (s *Store) Merge(ctx context.Context, other Snapshot) error {
	other = other.normalize()
	return s.mutate(ctx, func(c Snapshot) Snapshot {
		for _, id := range other.Birds {
			c.Birds = insert(c.Birds, id)
		}
		for _, id := range other.Nests {
			c.Nests = insert(c.Nests, id)
		}
		return c
	})
}

func (s *Store) mutate(ctx context.Context, apply func(Snapshot) Snapshot) error {
	s.mu.Lock()
	next := apply(s.snap.clone())
	if next.Equal(s.snap) {
		s.mu.Unlock()
		return nil
	}
	if err := s.persister.Save(ctx, Encode(next)); err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "persist cart")
	}
	s.snap = next
	ticket := s.commits
	s.commits++
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for s.notified != ticket {
		s.notifyCond.Wait()
	}
	for _, fn := range observers {
		fn(next.clone())
	}
	s.notified++
	s.notifyCond.Broadcast()
	return nil
}

func insert(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func remove(ids []string, id string) []string {
	i := slices.Index(ids, id)
	if i < 0 {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}
