package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/birdfarm-cart/internal/domain/checkout"
	"github.com/xenking/birdfarm-cart/internal/domain/resolver"
)

// listVouchers opens the voucher picker.
func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	ranked, err := s.OpenVoucherPicker(r.Context())
	if err != nil {
		h.upstreamFailed(w, r, err)
		return
	}
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("vouchers")
	h.encodeRanked(&e, ranked)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) selectVoucher(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	id, err := decodeVoucherID(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"voucherId\":\"...\"}")
		return
	}

	switch err := s.ConfirmVoucher(id); {
	case err == nil:
		h.writeView(w, http.StatusOK, s.View())
	case errors.Is(err, checkout.ErrPickerClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, checkout.ErrVoucherNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, checkout.ErrVoucherNotSelectable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(r.Context()).Error("Confirm voucher", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// closePicker dismisses the picker, keeping the current selection.
func (h *Handler) closePicker(w http.ResponseWriter, _ *http.Request, s *checkout.Session) {
	s.ClosePicker()
	h.writeView(w, http.StatusOK, s.View())
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	redirect, gate, err := s.InitiateCheckout(r.Context())
	if err != nil {
		h.upstreamFailed(w, r, err)
		return
	}
	switch gate.Reason {
	case checkout.ReasonNotAuthenticated:
		writeReason(w, http.StatusUnauthorized, "sign in to check out", string(gate.Reason))
		return
	case checkout.ReasonEmptyCart:
		writeReason(w, http.StatusConflict, "cart has nothing to check out", string(gate.Reason))
		return
	}

	var e jx.Encoder
	encodeRedirect(&e, redirect)
	writeJSON(w, http.StatusOK, e.Bytes())
}

// reasonCartChanged tells the storefront to retry once the cart settles.
const reasonCartChanged = "CartChanged"

// upstreamFailed maps catalog failures to 502. A cart that kept changing
// while it was priced is a conflict, not an outage.
func (h *Handler) upstreamFailed(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())
	if errors.Is(err, checkout.ErrSuperseded) {
		lg.Debug("Cart changed while pricing", zap.Error(err))
		writeReason(w, http.StatusConflict, "cart changed while it was priced, retry", reasonCartChanged)
		return
	}
	var rf *resolver.ResolutionFailed
	if errors.As(err, &rf) {
		lg.Warn("Cart items unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, checkout.BannerResolutionFailed)
		return
	}
	lg.Error("Catalog request", zap.Error(err))
	writeError(w, http.StatusBadGateway, "catalog unavailable")
}
