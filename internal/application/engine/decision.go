package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/market"
	"github.com/alejandrodnm/capmbot/internal/ports"
)

type candidate struct {
	order domain.Order
	perf  float64
}

// decide picks at most one order for st: the best reactive trade if it
// improves performance, otherwise the best market-making or creep quote.
func (e *Engine) decide(st *market.State) {
	if busy(st) {
		slog.Debug("engine: market busy", "market", st.ID(), "order", st.Ledger().Current().String())
		return
	}
	baseline := e.Performance()

	if e.hasNote && st.ID() == e.noteID {
		e.decideNote(st, baseline)
		return
	}

	book := st.Book()
	reactive := e.reactiveCandidates(st, book.BestBids)
	reactive = append(reactive, e.reactiveCandidates(st, book.BestAsks)...)
	if best, ok := pickBest(reactive, baseline); ok {
		e.decision(best, baseline, domain.RoleReactive, len(reactive))
		e.send(st, best.order, domain.RoleReactive, 0)
		return
	}

	passive := e.marketMakerCandidates(st)
	passive = append(passive, e.creepCandidates(st)...)
	if best, ok := pickBest(passive, baseline); ok {
		e.decision(best, baseline, domain.RoleMarketMaker, len(passive))
		e.send(st, best.order, domain.RoleMarketMaker, 0)
	}
}

// busy reports whether the market's current order is still being pursued:
// awaiting its acknowledgement, or resting with no cancel on its way.
func busy(st *market.State) bool {
	cur := st.Ledger().Current()
	if cur == nil {
		return false
	}
	switch cur.Status() {
	case domain.StatusPending:
		return true
	case domain.StatusAccepted:
		return !cur.Cancelling()
	}
	return false
}

// pickBest returns the highest scoring candidate if it beats baseline. Ties
// keep discovery order.
func pickBest(cands []candidate, baseline float64) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].perf > cands[j].perf })
	if cands[0].perf <= baseline {
		return candidate{}, false
	}
	return cands[0], true
}

// canSend checks an order against the price grid and the virtual balances.
// extraCash is cash expected from an order sent in the same breath.
func (e *Engine) canSend(st *market.State, price, units int64, side domain.OrderSide, extraCash int64) bool {
	if units <= 0 || !st.IsValidPrice(price) {
		return false
	}
	if side == domain.SideBuy {
		return e.cash.Virtual+extraCash >= price*units
	}
	return st.Units().Virtual >= units
}

// send validates, stages and transmits o with the given role. Candidates
// that fail validation are dropped without error.
func (e *Engine) send(st *market.State, o domain.Order, role domain.OrderRole, extraCash int64) bool {
	if !e.canSend(st, o.Price, o.Units, o.Side, extraCash) {
		slog.Debug("engine: candidate dropped", "market", st.ID(), "order", o.String())
		return false
	}
	st.AddOrder(o.Price, o.Units, o.Side, role)
	sent, err := st.SendCurrentOrder()
	if err != nil {
		if errors.Is(err, ports.ErrThrottled) {
			slog.Debug("engine: send throttled", "market", st.ID(), "order", o.String())
		} else {
			slog.Warn("engine: send failed", "market", st.ID(), "error", err)
		}
		return false
	}
	if sent.Side == domain.SideBuy {
		e.cash.Reserve(sent.Value())
	}

	e.metrics.OrderSent(role.String())
	e.record(ports.JournalSent, sent, role, e.PotentialPerformance(sent), "")
	slog.Info("engine: order sent",
		"market", st.ID(),
		"side", sent.Side,
		"price", sent.Price,
		"units", sent.Units,
		"role", role,
		"ref", sent.Ref,
	)
	return true
}

func (e *Engine) decision(best candidate, baseline float64, role domain.OrderRole, n int) {
	e.record(ports.JournalDecision, best.order, role, best.perf,
		fmt.Sprintf("baseline=%.4f candidates=%d", baseline, n))
}

// decideNote trades the zero-variance security. It sells at a bid no lower
// than its payoff, sells it to fund a purchase elsewhere when cash is short
// and the swap improves performance, and otherwise quotes it at its payoff.
func (e *Engine) decideNote(st *market.State, baseline float64) {
	sec := st.Security()
	book := st.Book()

	if bid, ok := book.BestBid(); ok && st.Units().Available > 0 {
		sell := limit(sec.ID, bid, 1, domain.SideSell)
		if float64(bid) >= sec.ExpectedReturn() {
			e.decision(candidate{sell, e.PotentialPerformance(sell)}, baseline, domain.RoleReactive, 1)
			if e.send(st, sell, domain.RoleReactive, 0) {
				return
			}
		}

		for _, id := range e.ids {
			if id == sec.ID {
				continue
			}
			other := e.markets[id]
			ask, ok := other.Book().BestAsk()
			if !ok || busy(other) || e.cash.Available >= ask {
				continue
			}
			buy := limit(id, ask, 1, domain.SideBuy)
			perf := e.PotentialPerformance(sell, buy)
			if perf <= baseline {
				continue
			}
			e.decision(candidate{buy, perf}, baseline, domain.RoleReactive, 2)
			if e.send(st, sell, domain.RoleReactive, 0) {
				e.send(other, buy, domain.RoleReactive, sell.Value())
			}
			return
		}
	}

	quote := limit(sec.ID, sec.Payoffs[0], 1, domain.SideSell)
	e.send(st, quote, domain.RoleMarketMaker, 0)
}
