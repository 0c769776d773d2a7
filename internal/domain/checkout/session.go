package checkout

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/birdfarm-cart/internal/domain/cart"
	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/resolver"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
)

// State is the position of a session in the checkout flow.
type State string

const (
	StateBrowsing         State = "browsing"
	StateSelectingVoucher State = "selecting_voucher"
	StateRedirected       State = "redirected"
)

// BannerResolutionFailed is shown while the cart cannot be priced.
const BannerResolutionFailed = "could not load cart items"

var (
	// ErrSuperseded is returned by Refresh when a newer resolution was
	// initiated before this one completed. Its result was discarded. The
	// picker and checkout return it when the cart kept changing while they
	// priced it; the call can be retried.
	ErrSuperseded = errors.New("resolution superseded")
	// ErrPickerClosed is returned when confirming a voucher while the
	// picker is not open.
	ErrPickerClosed = errors.New("voucher picker is not open")

	ErrVoucherNotFound      = voucher.ErrNotFound
	ErrVoucherNotSelectable = voucher.ErrNotSelectable
)

// Resolver resolves cart snapshots against the catalog.
type Resolver interface {
	Resolve(ctx context.Context, snap cart.Snapshot) (*resolver.Result, error)
}

// View is what a client renders for its cart.
type View struct {
	// Token identifies the resolution the view is priced from. Zero means
	// nothing was resolved yet.
	Token uint64
	State State
	// Cart is the current cart contents.
	Cart     cart.Snapshot
	Resolved *resolver.Result
	Summary  Summary
	// Removal lists dangling and sold entries the client may drop.
	Removal []catalog.Reference
	Banner  string
	// Stale is set when the cart changed after the shown resolution was
	// initiated.
	Stale bool
}

// Options configures a Session.
type Options struct {
	Rules   *voucher.Rules
	Metrics *Metrics
	Logger  *zap.Logger
}

// Session is the checkout flow of one client. It is safe for concurrent use;
// its lock is never held across catalog calls.
type Session struct {
	store       *cart.Store
	resolver    Resolver
	vouchers    catalog.Vouchers
	rules       *voucher.Rules
	calc        *Calculator
	metrics     *Metrics
	lg          *zap.Logger
	unsubscribe func()

	mu    sync.Mutex
	user  string
	state State
	// seq is the token of the most recently initiated resolution.
	seq        uint64
	applied    uint64
	result     *resolver.Result
	resolveErr error
	offered    []voucher.Voucher
	selected   *voucher.Voucher
}

// NewSession starts a checkout flow over store.
func NewSession(store *cart.Store, res Resolver, vouchers catalog.Vouchers, opts Options) *Session {
	if opts.Rules == nil {
		opts.Rules = voucher.NewRules(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Session{
		store:    store,
		resolver: res,
		vouchers: vouchers,
		rules:    opts.Rules,
		calc:     NewCalculator(opts.Rules),
		metrics:  opts.Metrics,
		lg:       opts.Logger,
		state:    StateBrowsing,
	}
	s.unsubscribe = store.Subscribe(s.cartChanged)
	return s
}

// Close detaches the session from its cart.
func (s *Session) Close() {
	s.unsubscribe()
}

// Store returns the cart the session prices.
func (s *Session) Store() *cart.Store {
	return s.store
}

// SetUser records the signed-in user. An empty id signs the user out.
func (s *Session) SetUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = userID
}

// User returns the signed-in user, or "".
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// A cart edit after a redirect means the client came back to the cart.
func (s *Session) cartChanged(cart.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRedirected {
		s.state = StateBrowsing
	}
}

// Refresh resolves the current cart and shows the result unless a newer
// resolution was initiated meanwhile, in which case the result is dropped
// and ErrSuperseded is returned with the current view. A failed resolution
// clears the priced view and sets the banner; the cart itself is untouched.
func (s *Session) Refresh(ctx context.Context) (View, error) {
	s.mu.Lock()
	snap := s.store.Snapshot()
	s.seq++
	token := s.seq
	if s.state == StateRedirected {
		s.state = StateBrowsing
	}
	s.mu.Unlock()
	s.metrics.started.Add(ctx, 1)

	res, err := s.resolver.Resolve(ctx, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.seq {
		s.metrics.superseded.Add(ctx, 1)
		s.lg.Debug("Discarding superseded resolution",
			zap.Uint64("token", token),
			zap.Uint64("latest", s.seq),
		)
		return s.viewLocked(), ErrSuperseded
	}

	s.applied = token
	if err != nil {
		s.metrics.failed.Add(ctx, 1)
		s.lg.Warn("Cart resolution failed", zap.Error(err), zap.Uint64("token", token))
		s.result = nil
		s.resolveErr = err
		return s.viewLocked(), err
	}
	s.metrics.applied.Add(ctx, 1)
	s.result = res
	s.resolveErr = nil
	return s.viewLocked(), nil
}

// View returns the last applied view without resolving.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	current := s.store.Snapshot()
	v := View{
		Token:    s.applied,
		State:    s.state,
		Cart:     current,
		Resolved: s.result,
		Summary:  s.calc.ComputeSummary(s.result, s.selected, s.user),
		Removal:  RemovalCandidates(s.result),
	}
	if s.resolveErr != nil {
		v.Banner = BannerResolutionFailed
	}
	if s.result != nil {
		v.Stale = !s.result.Snapshot.Equal(current)
	}
	return v
}

// maxResolveAttempts bounds how often resolved re-resolves while the cart
// keeps changing under it.
const maxResolveAttempts = 3

// resolved returns a result priced from the current cart, resolving again
// when the shown one is missing or was priced from another cart. A result
// from an older cart is never returned; ErrSuperseded is returned when the
// cart kept changing for every attempt.
func (s *Session) resolved(ctx context.Context) (*resolver.Result, error) {
	for range maxResolveAttempts {
		if res := s.currentResult(); res != nil {
			return res, nil
		}
		if _, err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
			return nil, err
		}
	}
	if res := s.currentResult(); res != nil {
		return res, nil
	}
	return nil, ErrSuperseded
}

// currentResult returns the applied result if it prices the current cart.
func (s *Session) currentResult() *resolver.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil || !s.result.Snapshot.Equal(s.store.Snapshot()) {
		return nil
	}
	return s.result
}

// OpenVoucherPicker fetches the offered vouchers and ranks them against the
// current subtotal. The session moves to StateSelectingVoucher.
func (s *Session) OpenVoucherPicker(ctx context.Context) ([]voucher.Ranked, error) {
	res, err := s.resolved(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.vouchers.ListVouchers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list vouchers")
	}
	offered := make([]voucher.Voucher, len(list))
	for i, v := range list {
		offered[i] = v.Normalize()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.offered = offered
	s.state = StateSelectingVoucher
	subtotal := s.calc.ComputeSummary(res, nil, s.user).Subtotal
	return s.rules.Rank(subtotal, offered, s.user), nil
}

// ConfirmVoucher selects the offered voucher id and closes the picker. The
// voucher must grant a discount on the current subtotal. An empty id clears
// the selection.
func (s *Session) ConfirmVoucher(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelectingVoucher {
		return ErrPickerClosed
	}
	if id == "" {
		s.selected = nil
		s.state = StateBrowsing
		return nil
	}

	subtotal := s.calc.ComputeSummary(s.result, nil, s.user).Subtotal
	v, err := s.rules.Select(subtotal, s.offered, id, s.user)
	if err != nil {
		return errors.Wrapf(err, "select voucher %q", id)
	}
	s.selected = &v
	s.state = StateBrowsing
	return nil
}

// ClosePicker leaves the picker without changing the selection.
func (s *Session) ClosePicker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSelectingVoucher {
		s.state = StateBrowsing
	}
}

// InitiateCheckout runs the checkout gate and, when it passes, returns the
// parameters for the order flow. A blocked checkout returns a nil Redirect
// and the reason; the session stays browsing. The selected voucher is only
// carried over while it still grants a discount.
func (s *Session) InitiateCheckout(ctx context.Context) (*Redirect, Gate, error) {
	gate := CanCheckout(s.store.Snapshot(), s.User())
	if !gate.OK {
		s.ClosePicker()
		return nil, gate, nil
	}

	res, err := s.resolved(ctx)
	if err != nil {
		return nil, Gate{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Redirect{Path: OrderPath}
	for _, p := range res.Birds {
		if !p.Sold {
			r.BirdIDs = append(r.BirdIDs, p.ID)
		}
	}
	for _, p := range res.Nests {
		if !p.Sold {
			r.NestIDs = append(r.NestIDs, p.ID)
		}
	}
	if len(r.BirdIDs)+len(r.NestIDs) == 0 {
		s.state = StateBrowsing
		return nil, Gate{Reason: ReasonEmptyCart}, nil
	}

	sum := s.calc.ComputeSummary(res, s.selected, s.user)
	if sum.Voucher != nil && sum.Discount > 0 {
		r.VoucherID = sum.Voucher.ID
	}
	s.state = StateRedirected
	s.lg.Info("Checkout initiated",
		zap.Int("birds", len(r.BirdIDs)),
		zap.Int("nests", len(r.NestIDs)),
		zap.String("voucher", r.VoucherID),
		zap.Int64("total", sum.Total.Int64()),
	)
	return r, Gate{OK: true}, nil
}
