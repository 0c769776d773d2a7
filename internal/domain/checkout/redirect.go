package checkout

import (
	"net/url"
	"strings"
)

// OrderPath is where the order-creation flow starts.
const OrderPath = "/checkout-order"

// Redirect carries the parameters handed to the order-creation flow.
type Redirect struct {
	Path      string
	VoucherID string
	BirdIDs   []string
	NestIDs   []string
}

// URL renders the redirect target. The voucher parameter is omitted when no
// voucher is selected.
func (r Redirect) URL() string {
	q := url.Values{}
	if r.VoucherID != "" {
		q.Set("voucher", r.VoucherID)
	}
	if len(r.BirdIDs) > 0 {
		q.Set("birds", strings.Join(r.BirdIDs, ","))
	}
	if len(r.NestIDs) > 0 {
		q.Set("nests", strings.Join(r.NestIDs, ","))
	}
	u := url.URL{Path: r.Path, RawQuery: q.Encode()}
	return u.String()
}
