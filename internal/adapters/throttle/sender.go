// Package throttle limits the rate of outbound orders.
package throttle

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/ports"
)

// Sender wraps an OrderSender with a token bucket. It never waits: the
// engine callbacks must not block, so an order over budget fails with
// ports.ErrThrottled and stays unsent.
type Sender struct {
	next    ports.OrderSender
	limiter *rate.Limiter
	now     func() time.Time
}

// New returns a Sender allowing perSecond orders with the given burst. A
// non-positive perSecond disables the limit. The bucket refills on now, so a
// replay clock throttles in replayed time; nil means the wall clock.
func New(next ports.OrderSender, perSecond float64, burst int, now func() time.Time) *Sender {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Sender{next: next, limiter: rate.NewLimiter(limit, burst), now: now}
}

// Send forwards o if the budget allows it.
func (s *Sender) Send(o domain.Order) error {
	if !s.limiter.AllowN(s.now(), 1) {
		return fmt.Errorf("throttle: %s %s market %d: %w", o.Type, o.Side, o.MarketID, ports.ErrThrottled)
	}
	return s.next.Send(o)
}
