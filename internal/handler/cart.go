package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/birdfarm-cart/internal/domain/cart"
	"github.com/xenking/birdfarm-cart/internal/domain/checkout"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	h.renderRefreshed(w, r, s)
}

type mutation func(st *cart.Store, ctx context.Context, id string) error

func (h *Handler) mutate(op mutation) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
		if err := op(s.Store(), r.Context(), r.PathValue("id")); err != nil {
			h.mutationFailed(w, r, err)
			return
		}
		h.renderRefreshed(w, r, s)
	}
}

func (h *Handler) addBird(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	h.mutate((*cart.Store).AddBird)(w, r, s)
}

func (h *Handler) removeBird(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	h.mutate((*cart.Store).RemoveBird)(w, r, s)
}

func (h *Handler) addNest(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	h.mutate((*cart.Store).AddNest)(w, r, s)
}

func (h *Handler) removeNest(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	h.mutate((*cart.Store).RemoveNest)(w, r, s)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	if err := s.Store().Clear(r.Context()); err != nil {
		h.mutationFailed(w, r, err)
		return
	}
	h.renderRefreshed(w, r, s)
}

// mergeCart folds a cart sent by the client, typically the anonymous cart
// kept before signing in, into the session cart.
func (h *Handler) mergeCart(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	other, err := cart.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"birds\":[...],\"nests\":[...]}")
		return
	}
	if err := s.Store().Merge(r.Context(), other); err != nil {
		h.mutationFailed(w, r, err)
		return
	}
	h.renderRefreshed(w, r, s)
}

func (h *Handler) mutationFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, cart.ErrEmptyID) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zctx.From(r.Context()).Error("Update cart", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "could not save cart")
}
