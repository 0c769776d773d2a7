package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/birdfarm-cart/internal/domain/cart"
	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/money"
	"github.com/xenking/birdfarm-cart/internal/domain/resolver"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
)

// --- Mock implementations ---

type memPersister struct {
	mu   sync.Mutex
	data []byte
}

func (m *memPersister) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, cart.ErrNoSnapshot
	}
	return m.data, nil
}

func (m *memPersister) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

// mockCatalog serves products from price tables.
type mockCatalog struct {
	mu       sync.Mutex
	birds    map[string]catalog.Product
	nests    map[string]catalog.Product
	vouchers []voucher.Voucher
	fail     error
}

func (m *mockCatalog) BirdsByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	return m.lookup(m.birds, ids)
}

func (m *mockCatalog) NestsByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	return m.lookup(m.nests, ids)
}

func (m *mockCatalog) lookup(records map[string]catalog.Product, ids []string) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := records[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockCatalog) ListVouchers(_ context.Context) ([]voucher.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	return m.vouchers, nil
}

func (m *mockCatalog) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// gatedResolver holds every resolution until the test releases it.
type gatedResolver struct {
	inner Resolver
	calls chan *pendingCall
}

type pendingCall struct {
	snap    cart.Snapshot
	release chan struct{}
}

func (g *gatedResolver) Resolve(ctx context.Context, snap cart.Snapshot) (*resolver.Result, error) {
	c := &pendingCall{snap: snap, release: make(chan struct{})}
	g.calls <- c
	<-c.release
	return g.inner.Resolve(ctx, snap)
}

// --- Helpers ---

func newCatalog() *mockCatalog {
	cheap := voucher.Voucher{
		ID:               "v5",
		DiscountPercent:  decimal.NewFromInt(5),
		MaxDiscountValue: 20_000,
		ConditionPrice:   0,
		Quantity:         10,
	}
	soldOut := tenPercent()
	soldOut.ID = "v-empty"
	soldOut.Quantity = 0

	return &mockCatalog{
		birds: map[string]catalog.Product{
			"b1": birdP("b1", 600_000),
			"b2": birdP("b2", 150_000),
		},
		nests: map[string]catalog.Product{
			"n1": nestP("n1", 400_000),
		},
		vouchers: []voucher.Voucher{cheap, soldOut, tenPercent()},
	}
}

func newSession(t *testing.T, cat *mockCatalog, res Resolver) *Session {
	t.Helper()
	store, err := cart.Open(context.Background(), &memPersister{}, nil)
	require.NoError(t, err)
	if res == nil {
		res = resolver.New(cat, nil)
	}
	s := NewSession(store, res, cat, Options{Rules: testRules()})
	t.Cleanup(s.Close)
	return s
}

// --- Tests ---

func TestSession_RefreshPricesCurrentCart(t *testing.T) {
	s := newSession(t, newCatalog(), nil)
	ctx := context.Background()

	require.NoError(t, s.Store().AddBird(ctx, "b1"))
	require.NoError(t, s.Store().AddBird(ctx, "gone"))
	require.NoError(t, s.Store().AddNest(ctx, "n1"))

	v, err := s.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), v.Token)
	assert.Equal(t, StateBrowsing, v.State)
	assert.Equal(t, money.Amount(1_000_000), v.Summary.Subtotal)
	assert.Equal(t, money.Amount(1_000_000), v.Summary.Total)
	assert.Equal(t, []catalog.Reference{{Kind: catalog.KindBird, ID: "gone"}}, v.Removal)
	assert.Empty(t, v.Banner)
	assert.False(t, v.Stale)

	require.NoError(t, s.Store().RemoveNest(ctx, "n1"))
	assert.True(t, s.View().Stale)
}

func TestSession_ResolutionFailureShowsBanner(t *testing.T) {
	cat := newCatalog()
	s := newSession(t, cat, nil)
	ctx := context.Background()
	require.NoError(t, s.Store().AddBird(ctx, "b1"))

	_, err := s.Refresh(ctx)
	require.NoError(t, err)

	cat.setFail(errors.New("catalog unavailable"))
	v, err := s.Refresh(ctx)
	var rf *resolver.ResolutionFailed
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, BannerResolutionFailed, v.Banner)
	assert.Nil(t, v.Resolved)
	assert.Equal(t, money.Zero, v.Summary.Total)
	assert.Equal(t, []string{"b1"}, v.Cart.Birds, "cart must be untouched")

	cat.setFail(nil)
	v, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, v.Banner)
	assert.Equal(t, money.Amount(600_000), v.Summary.Total)
}

func TestSession_OutOfOrderResultsAreDiscarded(t *testing.T) {
	cat := newCatalog()
	gate := &gatedResolver{inner: resolver.New(cat, nil), calls: make(chan *pendingCall)}
	s := newSession(t, cat, gate)
	ctx := context.Background()

	require.NoError(t, s.Store().AddBird(ctx, "b1"))

	type outcome struct {
		view View
		err  error
	}
	first := make(chan outcome, 1)
	go func() {
		v, err := s.Refresh(ctx)
		first <- outcome{v, err}
	}()
	call1 := receive(t, gate.calls)
	assert.Equal(t, []string{"b1"}, call1.snap.Birds)

	require.NoError(t, s.Store().AddNest(ctx, "n1"))

	second := make(chan outcome, 1)
	go func() {
		v, err := s.Refresh(ctx)
		second <- outcome{v, err}
	}()
	call2 := receive(t, gate.calls)
	assert.Equal(t, []string{"n1"}, call2.snap.Nests)

	// The newer resolution completes first.
	close(call2.release)
	got2 := receive(t, second)
	require.NoError(t, got2.err)
	assert.Equal(t, money.Amount(1_000_000), got2.view.Summary.Subtotal)

	// The stale one arrives afterwards and must not overwrite it.
	close(call1.release)
	got1 := receive(t, first)
	require.ErrorIs(t, got1.err, ErrSuperseded)
	assert.Equal(t, uint64(2), got1.view.Token)
	assert.Equal(t, money.Amount(1_000_000), got1.view.Summary.Subtotal)

	v := s.View()
	assert.Equal(t, uint64(2), v.Token)
	assert.Equal(t, money.Amount(1_000_000), v.Summary.Subtotal)
	assert.False(t, v.Stale)
}

func TestSession_SlowOlderResolutionIsDiscardedEvenIfFirst(t *testing.T) {
	cat := newCatalog()
	gate := &gatedResolver{inner: resolver.New(cat, nil), calls: make(chan *pendingCall)}
	s := newSession(t, cat, gate)
	ctx := context.Background()
	require.NoError(t, s.Store().AddBird(ctx, "b1"))

	errs := make(chan error, 2)
	go func() { _, err := s.Refresh(ctx); errs <- err }()
	call1 := receive(t, gate.calls)
	go func() { _, err := s.Refresh(ctx); errs <- err }()
	call2 := receive(t, gate.calls)

	close(call1.release)
	require.ErrorIs(t, receive(t, errs), ErrSuperseded)
	assert.Zero(t, s.View().Token, "superseded result must not be shown")

	close(call2.release)
	require.NoError(t, receive(t, errs))
	assert.Equal(t, uint64(2), s.View().Token)
}

func TestSession_CheckoutSupersededPricesCurrentCart(t *testing.T) {
	cat := newCatalog()
	gate := &gatedResolver{inner: resolver.New(cat, nil), calls: make(chan *pendingCall)}
	s := newSession(t, cat, gate)
	s.SetUser("u1")
	ctx := context.Background()

	require.NoError(t, s.Store().AddBird(ctx, "b1"))
	go func() { _, _ = s.Refresh(ctx) }()
	close(receive(t, gate.calls).release)
	require.Eventually(t, func() bool { return s.View().Token == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, s.Store().AddBird(ctx, "b2"))

	type outcome struct {
		redirect *Redirect
		err      error
	}
	checkout := make(chan outcome, 1)
	go func() {
		r, _, err := s.InitiateCheckout(ctx)
		checkout <- outcome{r, err}
	}()
	own := receive(t, gate.calls)
	assert.Equal(t, []string{"b1", "b2"}, own.snap.Birds)

	refreshed := make(chan error, 1)
	go func() {
		_, err := s.Refresh(ctx)
		refreshed <- err
	}()
	concurrent := receive(t, gate.calls)

	// The checkout resolution completes first but was superseded, and the
	// applied result still prices the old cart.
	close(own.release)
	retry := receive(t, gate.calls)
	assert.Equal(t, []string{"b1", "b2"}, retry.snap.Birds)
	close(retry.release)

	got := receive(t, checkout)
	require.NoError(t, got.err)
	require.NotNil(t, got.redirect)
	assert.Equal(t, []string{"b1", "b2"}, got.redirect.BirdIDs)

	close(concurrent.release)
	assert.ErrorIs(t, receive(t, refreshed), ErrSuperseded)
	assert.Equal(t, money.Amount(750_000), s.View().Summary.Subtotal)
}

func TestSession_PickerSupersededBeforeAnythingApplied(t *testing.T) {
	cat := newCatalog()
	gate := &gatedResolver{inner: resolver.New(cat, nil), calls: make(chan *pendingCall)}
	s := newSession(t, cat, gate)
	ctx := context.Background()

	require.NoError(t, s.Store().AddBird(ctx, "b1"))
	require.NoError(t, s.Store().AddNest(ctx, "n1"))

	type outcome struct {
		ranked []voucher.Ranked
		err    error
	}
	picker := make(chan outcome, 1)
	go func() {
		ranked, err := s.OpenVoucherPicker(ctx)
		picker <- outcome{ranked, err}
	}()
	own := receive(t, gate.calls)

	refreshed := make(chan error, 1)
	go func() {
		_, err := s.Refresh(ctx)
		refreshed <- err
	}()
	concurrent := receive(t, gate.calls)

	close(own.release)
	close(receive(t, gate.calls).release)

	got := receive(t, picker)
	require.NoError(t, got.err)
	require.Len(t, got.ranked, 3)
	assert.Equal(t, "v10", got.ranked[0].Voucher.ID)
	assert.Equal(t, money.Amount(50_000), got.ranked[0].Discount)
	assert.Equal(t, StateSelectingVoucher, s.View().State)

	close(concurrent.release)
	assert.ErrorIs(t, receive(t, refreshed), ErrSuperseded)
}

func TestSession_PickerGivesUpWhileCartKeepsChanging(t *testing.T) {
	cat := newCatalog()
	gate := &gatedResolver{inner: resolver.New(cat, nil), calls: make(chan *pendingCall)}
	s := newSession(t, cat, gate)
	ctx := context.Background()

	require.NoError(t, s.Store().AddBird(ctx, "b1"))

	picker := make(chan error, 1)
	go func() {
		_, err := s.OpenVoucherPicker(ctx)
		picker <- err
	}()
	for _, id := range []string{"x1", "x2", "x3"} {
		c := receive(t, gate.calls)
		require.NoError(t, s.Store().AddNest(ctx, id))
		close(c.release)
	}

	assert.ErrorIs(t, receive(t, picker), ErrSuperseded)
	assert.Equal(t, StateBrowsing, s.View().State)
}

func TestSession_VoucherPicker(t *testing.T) {
	s := newSession(t, newCatalog(), nil)
	ctx := context.Background()

	require.ErrorIs(t, s.ConfirmVoucher("v10"), ErrPickerClosed)

	require.NoError(t, s.Store().AddBird(ctx, "b1"))
	require.NoError(t, s.Store().AddNest(ctx, "n1"))

	ranked, err := s.OpenVoucherPicker(ctx)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "v10", ranked[0].Voucher.ID)
	assert.Equal(t, voucher.LabelBestChoice, ranked[0].Label)
	assert.Equal(t, money.Amount(50_000), ranked[0].Discount)
	assert.Equal(t, "v5", ranked[1].Voucher.ID)
	assert.Equal(t, voucher.LabelLimitedQuantity, ranked[1].Label)
	assert.Equal(t, "v-empty", ranked[2].Voucher.ID)
	assert.False(t, ranked[2].Selectable)
	assert.Equal(t, StateSelectingVoucher, s.View().State)

	require.ErrorIs(t, s.ConfirmVoucher("v-empty"), ErrVoucherNotSelectable)
	require.ErrorIs(t, s.ConfirmVoucher("nope"), ErrVoucherNotFound)
	assert.Equal(t, StateSelectingVoucher, s.View().State)

	require.NoError(t, s.ConfirmVoucher("v10"))
	v := s.View()
	assert.Equal(t, StateBrowsing, v.State)
	require.NotNil(t, v.Summary.Voucher)
	assert.Equal(t, money.Amount(50_000), v.Summary.Discount)
	assert.Equal(t, money.Amount(950_000), v.Summary.Total)

	// Selection is re-evaluated against the current subtotal.
	require.NoError(t, s.Store().RemoveNest(ctx, "n1"))
	v, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(50_000), v.Summary.Discount)
	require.NoError(t, s.Store().RemoveBird(ctx, "b1"))
	require.NoError(t, s.Store().AddBird(ctx, "b2"))
	v, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, money.Zero, v.Summary.Discount)
	assert.Equal(t, money.Amount(150_000), v.Summary.Total)
}

func TestSession_ClosePickerKeepsSelection(t *testing.T) {
	s := newSession(t, newCatalog(), nil)
	ctx := context.Background()
	require.NoError(t, s.Store().AddBird(ctx, "b1"))

	_, err := s.OpenVoucherPicker(ctx)
	require.NoError(t, err)
	require.NoError(t, s.ConfirmVoucher("v5"))

	_, err = s.OpenVoucherPicker(ctx)
	require.NoError(t, err)
	s.ClosePicker()

	v := s.View()
	assert.Equal(t, StateBrowsing, v.State)
	require.NotNil(t, v.Summary.Voucher)
	assert.Equal(t, "v5", v.Summary.Voucher.ID)

	_, err = s.OpenVoucherPicker(ctx)
	require.NoError(t, err)
	require.NoError(t, s.ConfirmVoucher(""))
	assert.Nil(t, s.View().Summary.Voucher)
}

func TestSession_OpenVoucherPickerFailure(t *testing.T) {
	cat := newCatalog()
	s := newSession(t, cat, nil)
	cat.setFail(errors.New("boom"))

	_, err := s.OpenVoucherPicker(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateBrowsing, s.View().State)
}

func TestSession_InitiateCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("not authenticated", func(t *testing.T) {
		s := newSession(t, newCatalog(), nil)
		require.NoError(t, s.Store().AddBird(ctx, "b1"))

		r, gate, err := s.InitiateCheckout(ctx)
		require.NoError(t, err)
		assert.Nil(t, r)
		assert.Equal(t, Gate{Reason: ReasonNotAuthenticated}, gate)
		assert.Equal(t, StateBrowsing, s.View().State)
	})

	t.Run("empty cart", func(t *testing.T) {
		s := newSession(t, newCatalog(), nil)
		s.SetUser("u1")

		r, gate, err := s.InitiateCheckout(ctx)
		require.NoError(t, err)
		assert.Nil(t, r)
		assert.Equal(t, Gate{Reason: ReasonEmptyCart}, gate)
	})

	t.Run("only unavailable items", func(t *testing.T) {
		s := newSession(t, newCatalog(), nil)
		s.SetUser("u1")
		require.NoError(t, s.Store().AddBird(ctx, "gone"))

		r, gate, err := s.InitiateCheckout(ctx)
		require.NoError(t, err)
		assert.Nil(t, r)
		assert.Equal(t, Gate{Reason: ReasonEmptyCart}, gate)
	})

	t.Run("redirects with voucher", func(t *testing.T) {
		s := newSession(t, newCatalog(), nil)
		s.SetUser("u1")
		require.NoError(t, s.Store().AddBird(ctx, "b1"))
		require.NoError(t, s.Store().AddBird(ctx, "gone"))
		require.NoError(t, s.Store().AddNest(ctx, "n1"))
		_, err := s.OpenVoucherPicker(ctx)
		require.NoError(t, err)
		require.NoError(t, s.ConfirmVoucher("v10"))

		r, gate, err := s.InitiateCheckout(ctx)
		require.NoError(t, err)
		assert.True(t, gate.OK)
		require.NotNil(t, r)
		assert.Equal(t, "/checkout-order?birds=b1&nests=n1&voucher=v10", r.URL())
		assert.Equal(t, StateRedirected, s.View().State)

		// Coming back to edit the cart returns to browsing.
		require.NoError(t, s.Store().RemoveBird(ctx, "gone"))
		assert.Equal(t, StateBrowsing, s.View().State)
	})

	t.Run("resolution failure", func(t *testing.T) {
		cat := newCatalog()
		s := newSession(t, cat, nil)
		s.SetUser("u1")
		require.NoError(t, s.Store().AddBird(ctx, "b1"))
		cat.setFail(errors.New("timeout"))

		r, _, err := s.InitiateCheckout(ctx)
		var rf *resolver.ResolutionFailed
		require.ErrorAs(t, err, &rf)
		assert.Nil(t, r)
	})
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
	}
	var zero T
	return zero
}
