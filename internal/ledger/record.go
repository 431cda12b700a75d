package ledger

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/ports"
)

// MaxDelays holds how many order-book snapshots of inaction each role
// tolerates before its order is cancelled.
type MaxDelays struct {
	MarketMaker int
	Reactive    int
}

// DefaultMaxDelays returns the stock patience per role.
func DefaultMaxDelays() MaxDelays {
	return MaxDelays{MarketMaker: 5, Reactive: 1}
}

func (m MaxDelays) limit(role domain.OrderRole) int {
	if role == domain.RoleMarketMaker {
		return m.MarketMaker
	}
	return m.Reactive
}

// Record is the local lifecycle of one of our orders.
type Record struct {
	order       domain.Order
	cancelOrder *domain.Order
	role        domain.OrderRole
	status      domain.OrderStatus
	delay       int

	cancelling  bool // cancel sent, no ack yet
	unconfirmed bool // cancel rejected, next book must show the order
	exhausted   bool // reactive order partially filled

	limits MaxDelays
	sender ports.OrderSender
	now    func() time.Time
}

// Order returns a copy of the order the record tracks.
func (r *Record) Order() domain.Order { return r.order }

// Role returns the role the record was created with.
func (r *Record) Role() domain.OrderRole { return r.role }

// Status returns the lifecycle state.
func (r *Record) Status() domain.OrderStatus { return r.status }

// Delay returns the number of snapshots counted so far.
func (r *Record) Delay() int { return r.delay }

// Cancelling reports whether a cancel is in flight.
func (r *Record) Cancelling() bool { return r.cancelling }

// NeedsConfirmation reports whether the record's cancel was rejected and the
// order has not been seen in a book since.
func (r *Record) NeedsConfirmation() bool { return r.unconfirmed }

func (r *Record) send() error {
	if r.status != domain.StatusMade {
		return fmt.Errorf("ledger.send: %s: %w", r.status, ErrInvalidState)
	}
	if err := r.sender.Send(r.order); err != nil {
		return fmt.Errorf("ledger.send: %w", err)
	}
	r.status = domain.StatusPending
	return nil
}

// cancel transmits a cancel for the record. It reports false when the record
// is not resting or a cancel is already on its way.
func (r *Record) cancel() (bool, error) {
	if r.status != domain.StatusAccepted || r.cancelling {
		return false, nil
	}
	c := r.order
	c.Type = domain.TypeCancel
	c.Ref = domain.NewRef(r.now(), c.Price, c.Units, c.Type, c.Side, c.MarketID, r.role)
	if err := r.sender.Send(c); err != nil {
		return false, fmt.Errorf("ledger.cancel: %w", err)
	}
	r.cancelOrder = &c
	r.cancelling = true
	return true, nil
}

// accepted adopts the exchange's copy of the order.
func (r *Record) accepted(o domain.Order) {
	if o.Ref == "" {
		o.Ref = r.order.Ref
	}
	r.order = o
	r.status = domain.StatusAccepted
	r.delay = 0
}

// delayed counts one more snapshot of inaction and reports whether the
// order has run out of patience.
func (r *Record) delayed() bool {
	r.delay++
	if r.exhausted {
		return true
	}
	return r.delay >= r.limits.limit(r.role)
}

// partialTraded applies a partial fill and reports whether the remainder
// should be cancelled.
func (r *Record) partialTraded(fill domain.Order) bool {
	r.order.Units -= fill.Units
	if r.role == domain.RoleReactive {
		r.exhausted = true
		return true
	}
	r.delay = 0
	return false
}

func (r *Record) cancelRejected() {
	r.cancelling = false
	r.cancelOrder = nil
	r.unconfirmed = true
}

// compare matches o against the record. Cancel acknowledgements are matched
// against the cancel the record sent.
func (r *Record) compare(o domain.Order) domain.Comparison {
	if o.Type == domain.TypeCancel {
		if r.cancelOrder == nil {
			return domain.Different
		}
		return domain.Compare(*r.cancelOrder, o)
	}
	return domain.Compare(r.order, o)
}

func (r *Record) String() string {
	return fmt.Sprintf("%s %s %s delay=%d", r.order, r.role, r.status, r.delay)
}
