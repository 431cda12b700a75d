package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/capmbot/internal/adapters/sim"
	"github.com/alejandrodnm/capmbot/internal/domain"
)

// Engine is the set of callbacks a replay drives. engine.Engine satisfies it.
type Engine interface {
	sim.Acker
	OnOrderBook(marketID int, entries []domain.Order)
	OnHoldings(h domain.Holdings)
	OnCompletedOrders(marketID int, orders []domain.Order)
	OnMarketplaceInfo(open bool, sessionID string)
}

// Clock is the replay's notion of now, shared by the engine and the
// exchange.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Runner feeds a scenario to an engine.
type Runner struct {
	eng   Engine
	x     *sim.Exchange
	clock *Clock
	seq   int
}

func NewRunner(eng Engine, x *sim.Exchange, clock *Clock) *Runner {
	return &Runner{eng: eng, x: x, clock: clock}
}

// Run replays every event in order. After each one, the acknowledgements of
// the orders it triggered are delivered. It returns the number of events
// replayed.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (int, error) {
	for i, ev := range sc.Events {
		if err := ctx.Err(); err != nil {
			return i, fmt.Errorf("scenario.Run: stopped at event %d: %w", i, err)
		}
		r.clock.Set(sc.Start.Add(ev.At))
		slog.Debug("scenario: event", "index", i, "kind", ev.Kind(), "at", ev.At)
		r.apply(ev)
		r.x.Deliver(r.eng)
	}
	return len(sc.Events), nil
}

func (r *Runner) apply(ev Event) {
	switch {
	case ev.Marketplace != nil:
		r.eng.OnMarketplaceInfo(ev.Marketplace.Open, ev.Marketplace.Session)
	case ev.Holdings != nil:
		r.x.SetHoldings(*ev.Holdings)
		r.eng.OnHoldings(r.x.Holdings())
	case ev.ReportHoldings:
		r.eng.OnHoldings(r.x.Holdings())
	case ev.OrderBook != nil:
		r.eng.OnOrderBook(ev.OrderBook.Market, r.book(ev.OrderBook))
	case ev.Fill != nil:
		side, _ := ParseSide(ev.Fill.Side)
		trade, ok := r.x.Fill(ev.Fill.Market, side, ev.Fill.Price, ev.Fill.Units)
		if !ok {
			slog.Warn("scenario: nothing to fill", "market", ev.Fill.Market, "side", side, "price", ev.Fill.Price)
			return
		}
		slog.Debug("scenario: filled", "order", trade.String())
	case ev.Completed != nil:
		r.eng.OnCompletedOrders(ev.Completed.Market, r.x.Completed(ev.Completed.Market))
	case ev.RejectNext > 0:
		r.x.RejectNext(ev.RejectNext)
	}
}

// book builds the snapshot: the scripted orders of others plus ours.
func (r *Runner) book(ev *BookEvent) []domain.Order {
	now := r.clock.Now()
	entries := make([]domain.Order, 0, len(ev.Orders))
	for _, bo := range ev.Orders {
		side, _ := ParseSide(bo.Side)
		r.seq++
		entries = append(entries, domain.Order{
			ID:       fmt.Sprintf("B%06d", r.seq),
			MarketID: ev.Market,
			Price:    bo.Price,
			Units:    bo.Units,
			Side:     side,
			Type:     domain.TypeLimit,
			Date:     now,
		})
	}
	return append(entries, r.x.Resting(ev.Market)...)
}
