package ports

import (
	"errors"

	"github.com/alejandrodnm/capmbot/internal/domain"
)

// ErrThrottled is returned by a sender that refuses an order because the
// outbound rate budget is spent. The caller keeps the order unsent.
var ErrThrottled = errors.New("order throttled")

// OrderSender transmits orders to the exchange. Sends are fire-and-forget:
// the outcome arrives later as an accepted/rejected callback. A cancel is an
// order whose Type is domain.TypeCancel.
type OrderSender interface {
	Send(order domain.Order) error
}
