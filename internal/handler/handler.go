// Package handler serves the cart API used by the storefront.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/birdfarm-cart/internal/domain/checkout"
	"github.com/xenking/birdfarm-cart/internal/domain/money"
	"github.com/xenking/birdfarm-cart/internal/domain/resolver"
	"github.com/xenking/birdfarm-cart/pkg/httpmiddleware"
)

const (
	// SessionHeader identifies the browser session. It is generated and
	// echoed when missing.
	SessionHeader = "X-Session-ID"
	// UserHeader carries the signed-in user set by the auth gateway.
	UserHeader = "X-User-ID"

	maxSessionIDLen = 128
	maxBodyBytes    = 1 << 20
)

// Sessions hands out the checkout session of a client. The session is held
// until release is called.
type Sessions interface {
	Acquire(ctx context.Context, id string) (s *checkout.Session, release func(), err error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths.
	ImageBaseURL string
	// Formatter renders display prices. Defaults to Vietnamese formatting.
	Formatter *money.Formatter
}

// Handler serves the cart endpoints.
type Handler struct {
	sessions     Sessions
	imageBaseURL string
	fmt          *money.Formatter
}

// New constructs a Handler.
func New(cfg Config, sessions Sessions) *Handler {
	f := cfg.Formatter
	if f == nil {
		f = money.DefaultFormatter()
	}
	return &Handler{
		sessions:     sessions,
		imageBaseURL: cfg.ImageBaseURL,
		fmt:          f,
	}
}

// Register adds the cart routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/cart", h.withSession(h.getCart))
	mux.Handle("DELETE /api/cart", h.withSession(h.clearCart))
	mux.Handle("POST /api/cart/birds/{id}", h.withSession(h.addBird))
	mux.Handle("DELETE /api/cart/birds/{id}", h.withSession(h.removeBird))
	mux.Handle("POST /api/cart/nests/{id}", h.withSession(h.addNest))
	mux.Handle("DELETE /api/cart/nests/{id}", h.withSession(h.removeNest))
	mux.Handle("POST /api/cart/merge", h.withSession(h.mergeCart))
	mux.Handle("GET /api/cart/vouchers", h.withSession(h.listVouchers))
	mux.Handle("PUT /api/cart/voucher", h.withSession(h.selectVoucher))
	mux.Handle("DELETE /api/cart/voucher", h.withSession(h.closePicker))
	mux.Handle("POST /api/cart/checkout", h.withSession(h.checkout))
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *checkout.Session)

// withSession resolves the client session and signed-in user before fn.
func (h *Handler) withSession(fn sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionHeader)
		if !httpmiddleware.PrintableID(id, maxSessionIDLen) {
			id = uuid.NewString()
		}
		w.Header().Set(SessionHeader, id)

		ctx := r.Context()
		s, release, err := h.sessions.Acquire(ctx, id)
		if err != nil {
			zctx.From(ctx).Error("Open session", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "cart storage unavailable")
			return
		}
		defer release()
		s.SetUser(r.Header.Get(UserHeader))
		fn(w, r.WithContext(zctx.With(ctx, zap.String("session", id))), s)
	})
}

// renderRefreshed resolves the cart and writes the view. A failed
// resolution still renders the cart, with the banner and a 502 status.
func (h *Handler) renderRefreshed(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	v, err := s.Refresh(r.Context())
	var rf *resolver.ResolutionFailed
	switch {
	case err == nil, errors.Is(err, checkout.ErrSuperseded):
		h.writeView(w, http.StatusOK, v)
	case errors.As(err, &rf):
		zctx.From(r.Context()).Warn("Cart items unavailable", zap.Error(err))
		h.writeView(w, http.StatusBadGateway, v)
	default:
		zctx.From(r.Context()).Error("Refresh cart", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
