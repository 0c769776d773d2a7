package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/checkout"
	"github.com/xenking/birdfarm-cart/internal/domain/money"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
)

func (h *Handler) writeView(w http.ResponseWriter, status int, v checkout.View) {
	var e jx.Encoder
	h.encodeView(&e, v)
	writeJSON(w, status, e.Bytes())
}

func (h *Handler) encodeView(e *jx.Encoder, v checkout.View) {
	e.ObjStart()
	e.FieldStart("token")
	e.UInt64(v.Token)
	e.FieldStart("state")
	e.Str(string(v.State))
	e.FieldStart("stale")
	e.Bool(v.Stale)
	if v.Banner != "" {
		e.FieldStart("banner")
		e.Str(v.Banner)
	}

	e.FieldStart("cart")
	e.ObjStart()
	e.FieldStart("birds")
	encodeStrings(e, v.Cart.Birds)
	e.FieldStart("nests")
	encodeStrings(e, v.Cart.Nests)
	e.ObjEnd()

	if res := v.Resolved; res != nil {
		e.FieldStart("birds")
		h.encodeProducts(e, res.Birds)
		e.FieldStart("nests")
		h.encodeProducts(e, res.Nests)
		e.FieldStart("dangling")
		encodeRefs(e, res.Dangling)
	}
	e.FieldStart("removal")
	encodeRefs(e, v.Removal)

	e.FieldStart("summary")
	h.encodeSummary(e, v.Summary)
	e.ObjEnd()
}

func (h *Handler) encodeSummary(e *jx.Encoder, s checkout.Summary) {
	e.ObjStart()
	h.encodeAmount(e, "subtotal", s.Subtotal)
	h.encodeAmount(e, "discount", s.Discount)
	h.encodeAmount(e, "total", s.Total)
	if s.Voucher != nil {
		e.FieldStart("voucherId")
		e.Str(s.Voucher.ID)
	}
	e.FieldStart("unavailable")
	encodeRefs(e, s.Unavailable)
	e.ObjEnd()
}

// encodeAmount writes name and name+"Formatted".
func (h *Handler) encodeAmount(e *jx.Encoder, name string, a money.Amount) {
	e.FieldStart(name)
	e.Int64(a.Int64())
	e.FieldStart(name + "Formatted")
	e.Str(h.fmt.Format(a))
}

func (h *Handler) encodeProducts(e *jx.Encoder, products []catalog.Product) {
	e.ArrStart()
	for _, p := range products {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(p.ID)
		e.FieldStart("kind")
		e.Str(string(p.Kind))
		e.FieldStart("name")
		e.Str(p.Name)
		h.encodeAmount(e, "price", p.Price)
		e.FieldStart("thumbnail")
		e.Str(h.imageURL(p.Thumbnail()))
		e.FieldStart("sold")
		e.Bool(p.Sold)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func (h *Handler) encodeRanked(e *jx.Encoder, ranked []voucher.Ranked) {
	e.ArrStart()
	for _, r := range ranked {
		v := r.Voucher
		e.ObjStart()
		e.FieldStart("id")
		e.Str(v.ID)
		e.FieldStart("label")
		e.Str(string(r.Label))
		e.FieldStart("selectable")
		e.Bool(r.Selectable)
		h.encodeAmount(e, "discount", r.Discount)
		e.FieldStart("discountPercent")
		e.Str(v.DiscountPercent.String())
		h.encodeAmount(e, "maxDiscountValue", v.MaxDiscountValue)
		h.encodeAmount(e, "conditionPrice", v.ConditionPrice)
		e.FieldStart("quantity")
		e.Int(v.Quantity)
		if !v.ExpiredAt.IsZero() {
			e.FieldStart("expiredAt")
			e.Str(v.ExpiredAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeRedirect(e *jx.Encoder, r *checkout.Redirect) {
	e.ObjStart()
	e.FieldStart("url")
	e.Str(r.URL())
	e.FieldStart("path")
	e.Str(r.Path)
	e.FieldStart("birds")
	encodeStrings(e, r.BirdIDs)
	e.FieldStart("nests")
	encodeStrings(e, r.NestIDs)
	if r.VoucherID != "" {
		e.FieldStart("voucherId")
		e.Str(r.VoucherID)
	}
	e.ObjEnd()
}

func encodeRefs(e *jx.Encoder, refs []catalog.Reference) {
	e.ArrStart()
	for _, r := range refs {
		e.ObjStart()
		e.FieldStart("kind")
		e.Str(string(r.Kind))
		e.FieldStart("id")
		e.Str(r.ID)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeStrings(e *jx.Encoder, s []string) {
	e.ArrStart()
	for _, v := range s {
		e.Str(v)
	}
	e.ArrEnd()
}

// imageURL prefixes relative image paths with the configured base.
func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" {
		return path
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(h.imageBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// decodeVoucherID reads {"voucherId": "..."}. A missing or null id is "".
func decodeVoucherID(body []byte) (string, error) {
	var id string
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "voucherId" {
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := d.Str()
		id = v
		return err
	})
	return id, err
}
