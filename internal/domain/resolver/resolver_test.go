package resolver

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
	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/money"
)

// --- Mock implementations ---

type mockProducts struct {
	birds    map[string]catalog.Product
	nests    map[string]catalog.Product
	birdErr  error
	nestErr  error
	birdCall atomic.Int32
	nestCall atomic.Int32
	// barrier, when set, makes each batch wait until both have started.
	barrier *sync.WaitGroup
}

func (m *mockProducts) BirdsByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	m.birdCall.Add(1)
	m.wait()
	if m.birdErr != nil {
		return nil, m.birdErr
	}
	return pick(m.birds, ids), nil
}

func (m *mockProducts) NestsByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	m.nestCall.Add(1)
	m.wait()
	if m.nestErr != nil {
		return nil, m.nestErr
	}
	return pick(m.nests, ids), nil
}

func (m *mockProducts) wait() {
	if m.barrier == nil {
		return
	}
	m.barrier.Done()
	m.barrier.Wait()
}

func pick(records map[string]catalog.Product, ids []string) []catalog.Product {
	var out []catalog.Product
	// Reverse order to make sure the resolver restores cart order.
	for i := len(ids) - 1; i >= 0; i-- {
		if p, ok := records[ids[i]]; ok {
			out = append(out, p)
		}
	}
	return out
}

func bird(id string, price money.Amount) catalog.Product {
	return catalog.Product{ID: id, Name: "Bird " + id, Price: price}
}

func nest(id string, price money.Amount) catalog.Product {
	return catalog.Product{ID: id, Name: "Nest " + id, Price: price}
}

// --- Tests ---

func TestResolve_DanglingReference(t *testing.T) {
	m := &mockProducts{
		birds: map[string]catalog.Product{"A": bird("A", 300_000)},
	}
	r := New(m, nil)

	res, err := r.Resolve(context.Background(), cart.Snapshot{Birds: []string{"A", "B"}})
	require.NoError(t, err)

	require.Len(t, res.Birds, 1)
	assert.Equal(t, "A", res.Birds[0].ID)
	assert.Equal(t, catalog.KindBird, res.Birds[0].Kind)
	assert.Equal(t, []catalog.Reference{{Kind: catalog.KindBird, ID: "B"}}, res.Dangling)
	assert.Empty(t, res.Nests)
}

func TestResolve_OneBatchPerKind(t *testing.T) {
	m := &mockProducts{
		birds: map[string]catalog.Product{
			"b1": bird("b1", 1), "b2": bird("b2", 2), "b3": bird("b3", 3),
		},
		nests: map[string]catalog.Product{
			"n1": nest("n1", 10), "n2": nest("n2", 20),
		},
	}
	r := New(m, nil)

	res, err := r.Resolve(context.Background(), cart.Snapshot{
		Birds: []string{"b1", "b2", "b3"},
		Nests: []string{"n2", "gone", "n1"},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(1), m.birdCall.Load())
	assert.Equal(t, int32(1), m.nestCall.Load())

	ids := func(ps []catalog.Product) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.ID
		}
		return out
	}
	assert.Equal(t, []string{"b1", "b2", "b3"}, ids(res.Birds))
	assert.Equal(t, []string{"n2", "n1"}, ids(res.Nests))
	assert.Equal(t, []catalog.Reference{{Kind: catalog.KindNest, ID: "gone"}}, res.Dangling)
	assert.Len(t, res.Products(), 5)
}

func TestResolve_EmptyCartSkipsLookups(t *testing.T) {
	m := &mockProducts{}
	r := New(m, nil)

	res, err := r.Resolve(context.Background(), cart.Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, res.Products())
	assert.Empty(t, res.Dangling)
	assert.Zero(t, m.birdCall.Load())
	assert.Zero(t, m.nestCall.Load())
}

func TestResolve_BatchesRunConcurrently(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)
	m := &mockProducts{
		birds:   map[string]catalog.Product{"b1": bird("b1", 1)},
		nests:   map[string]catalog.Product{"n1": nest("n1", 1)},
		barrier: &barrier,
	}
	r := New(m, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.Resolve(context.Background(), cart.Snapshot{Birds: []string{"b1"}, Nests: []string{"n1"}})
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batches did not run concurrently")
	}
}

func TestResolve_PartialFailureFailsWhole(t *testing.T) {
	tests := []struct {
		name     string
		m        *mockProducts
		wantKind catalog.Kind
	}{
		{
			name: "nest batch fails",
			m: &mockProducts{
				birds:   map[string]catalog.Product{"b1": bird("b1", 1)},
				nestErr: errors.New("502 bad gateway"),
			},
			wantKind: catalog.KindNest,
		},
		{
			name: "bird batch fails",
			m: &mockProducts{
				birdErr: errors.New("connection reset"),
				nests:   map[string]catalog.Product{"n1": nest("n1", 1)},
			},
			wantKind: catalog.KindBird,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.m, nil)

			res, err := r.Resolve(context.Background(), cart.Snapshot{Birds: []string{"b1"}, Nests: []string{"n1"}})
			require.Error(t, err)
			assert.Nil(t, res)

			var rf *ResolutionFailed
			require.ErrorAs(t, err, &rf)
			assert.Equal(t, tt.wantKind, rf.Kind)
		})
	}
}

func TestResolve_UsesFreshPrices(t *testing.T) {
	m := &mockProducts{birds: map[string]catalog.Product{"b1": bird("b1", 100)}}
	r := New(m, nil)
	snap := cart.Snapshot{Birds: []string{"b1"}}

	first, err := r.Resolve(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(100), first.Birds[0].Price)

	m.birds["b1"] = bird("b1", 250)
	second, err := r.Resolve(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(250), second.Birds[0].Price)
}
