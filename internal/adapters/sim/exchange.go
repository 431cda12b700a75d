// Package sim is an in-process exchange used to replay recorded sessions.
// It keeps our resting orders and account, acknowledges orders after the
// callback that sent them returns, and fills orders on request.
package sim

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/ports"
)

// maxDeliveryRounds bounds Deliver when every acknowledgement triggers a
// new order.
const maxDeliveryRounds = 1000

// Reject reasons reported by the exchange.
const (
	InfoInsufficientCash  = "insufficient cash"
	InfoInsufficientUnits = "insufficient units"
	InfoOrderNotFound     = "order not found"
	InfoInvalidPrice      = "invalid price"
	InfoScripted          = "rejected by scenario"
)

// Acker receives order acknowledgements. engine.Engine satisfies it.
type Acker interface {
	OnOrderAccepted(o domain.Order)
	OnOrderRejected(info string, o domain.Order)
}

type ack struct {
	order domain.Order
	info  string // empty when accepted
}

var _ ports.OrderSender = (*Exchange)(nil)

// Exchange implements ports.OrderSender.
type Exchange struct {
	mu sync.Mutex

	secs    map[int]domain.SecurityDef
	now     func() time.Time
	nextID  int
	sent    []domain.Order
	queue   []ack
	resting map[int][]domain.Order // by market, oldest first
	done    map[int][]domain.Order // completed, by market

	account     domain.Holdings
	rejectNext  int
	rejectCount int
	acceptCount int
}

// NewExchange creates an exchange listing defs.
func NewExchange(defs []domain.SecurityDef, now func() time.Time) *Exchange {
	if now == nil {
		now = time.Now
	}
	secs := make(map[int]domain.SecurityDef, len(defs))
	for _, d := range defs {
		secs[d.ID] = d
	}
	return &Exchange{
		secs:    secs,
		now:     now,
		resting: make(map[int][]domain.Order),
		done:    make(map[int][]domain.Order),
		account: domain.Holdings{Markets: make(map[int]domain.UnitHoldings)},
	}
}

// Send queues o for acknowledgement. It never fails.
func (x *Exchange) Send(o domain.Order) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.sent = append(x.sent, o)
	x.queue = append(x.queue, ack{order: o})
	return nil
}

// RejectNext makes the next n orders reaching the exchange fail.
func (x *Exchange) RejectNext(n int) {
	x.mu.Lock()
	x.rejectNext += n
	x.mu.Unlock()
}

// SetHoldings overwrites the account, as a deposit or transfer would.
func (x *Exchange) SetHoldings(h domain.Holdings) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.account = cloneHoldings(h)
}

// Holdings reports the account.
func (x *Exchange) Holdings() domain.Holdings {
	x.mu.Lock()
	defer x.mu.Unlock()
	return cloneHoldings(x.account)
}

// Deliver hands queued acknowledgements to a, including those for orders a
// sends while handling them. It returns how many were delivered.
func (x *Exchange) Deliver(a Acker) int {
	n := 0
	for round := 0; round < maxDeliveryRounds; round++ {
		batch := x.drain()
		if len(batch) == 0 {
			return n
		}
		for _, k := range batch {
			if k.info != "" {
				a.OnOrderRejected(k.info, k.order)
			} else {
				a.OnOrderAccepted(k.order)
			}
			n++
		}
	}
	slog.Warn("sim: delivery rounds exhausted", "delivered", n)
	return n
}

// drain processes the queue against the book and account.
func (x *Exchange) drain() []ack {
	x.mu.Lock()
	defer x.mu.Unlock()
	queued := x.queue
	x.queue = nil

	out := make([]ack, 0, len(queued))
	for _, k := range queued {
		o, info := x.process(k.order)
		if info != "" {
			x.rejectCount++
		} else {
			x.acceptCount++
		}
		out = append(out, ack{order: o, info: info})
	}
	return out
}

func (x *Exchange) process(o domain.Order) (domain.Order, string) {
	if x.rejectNext > 0 {
		x.rejectNext--
		return o, InfoScripted
	}
	if o.Type == domain.TypeCancel {
		return x.cancel(o)
	}

	sec, ok := x.secs[o.MarketID]
	if !ok || sec.Tick <= 0 || o.Price <= sec.Minimum || o.Price >= sec.Maximum || (o.Price-sec.Minimum)%sec.Tick != 0 {
		return o, InfoInvalidPrice
	}
	u := x.account.Markets[o.MarketID]
	switch o.Side {
	case domain.SideBuy:
		if x.account.AvailableCash < o.Value() {
			return o, InfoInsufficientCash
		}
		x.account.AvailableCash -= o.Value()
	case domain.SideSell:
		if u.Available < o.Units {
			return o, InfoInsufficientUnits
		}
		u.Available -= o.Units
		x.account.Markets[o.MarketID] = u
	}

	x.nextID++
	o.ID = fmt.Sprintf("X%06d", x.nextID)
	o.Mine = true
	o.Date = x.now()
	x.resting[o.MarketID] = append(x.resting[o.MarketID], o)
	return o, ""
}

func (x *Exchange) cancel(c domain.Order) (domain.Order, string) {
	book := x.resting[c.MarketID]
	for i, o := range book {
		if o.ID != c.ID && !(c.ID == "" && o.Side == c.Side && o.Price == c.Price && o.Units == c.Units) {
			continue
		}
		x.resting[c.MarketID] = append(book[:i:i], book[i+1:]...)
		x.unreserve(o)
		c.ID = o.ID
		c.Units = o.Units
		return c, ""
	}
	return c, InfoOrderNotFound
}

func (x *Exchange) unreserve(o domain.Order) {
	if o.Side == domain.SideBuy {
		x.account.AvailableCash += o.Value()
		return
	}
	u := x.account.Markets[o.MarketID]
	u.Available += o.Units
	x.account.Markets[o.MarketID] = u
}

// Fill trades up to units of our oldest resting order at price on side. It
// returns the completed order, or false when nothing rests there.
func (x *Exchange) Fill(marketID int, side domain.OrderSide, price, units int64) (domain.Order, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	book := x.resting[marketID]
	for i, o := range book {
		if o.Side != side || o.Price != price {
			continue
		}
		qty := min(units, o.Units)
		if qty <= 0 {
			return domain.Order{}, false
		}

		u := x.account.Markets[marketID]
		value := price * qty
		if side == domain.SideBuy {
			x.account.Cash -= value
			u.Units += qty
			u.Available += qty
		} else {
			x.account.Cash += value
			x.account.AvailableCash += value
			u.Units -= qty
		}
		x.account.Markets[marketID] = u

		trade := o
		trade.Units = qty
		trade.Date = x.now()
		x.done[marketID] = append(x.done[marketID], trade)

		if qty == o.Units {
			x.resting[marketID] = append(book[:i:i], book[i+1:]...)
		} else {
			book[i].Units -= qty
		}
		return trade, true
	}
	return domain.Order{}, false
}

// Resting returns our resting orders in a market, oldest first.
func (x *Exchange) Resting(marketID int) []domain.Order {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]domain.Order(nil), x.resting[marketID]...)
}

// Completed returns every trade of ours in a market since the start.
func (x *Exchange) Completed(marketID int) []domain.Order {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]domain.Order(nil), x.done[marketID]...)
}

// Sent returns every order and cancel received, in order.
func (x *Exchange) Sent() []domain.Order {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]domain.Order(nil), x.sent...)
}

// Stats returns the number of accepted and rejected acknowledgements.
func (x *Exchange) Stats() (accepted, rejected int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.acceptCount, x.rejectCount
}

func cloneHoldings(h domain.Holdings) domain.Holdings {
	out := h
	out.Markets = make(map[int]domain.UnitHoldings, len(h.Markets))
	for id, u := range h.Markets {
		out.Markets[id] = u
	}
	return out
}
