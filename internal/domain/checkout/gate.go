package checkout

import (
	"github.com/xenking/birdfarm-cart/internal/domain/cart"
)

// BlockReason explains why checkout cannot start.
type BlockReason string

const (
	ReasonNotAuthenticated BlockReason = "NotAuthenticated"
	ReasonEmptyCart        BlockReason = "EmptyCart"
)

// Gate is the outcome of the checkout precondition check.
type Gate struct {
	OK     bool
	Reason BlockReason
}

// CanCheckout reports whether a user may check out snap. An empty userID
// means nobody is signed in. It has no side effects.
func CanCheckout(snap cart.Snapshot, userID string) Gate {
	switch {
	case userID == "":
		return Gate{Reason: ReasonNotAuthenticated}
	case snap.IsEmpty():
		return Gate{Reason: ReasonEmptyCart}
	}
	return Gate{OK: true}
}
