package engine

import (
	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/market"
)

// reactiveCandidates proposes taking 1..n units of the opposing best level,
// where n is the quantity resting there.
func (e *Engine) reactiveCandidates(st *market.State, opposing []domain.Order) []candidate {
	if len(opposing) == 0 {
		return nil
	}
	price := opposing[0].Price
	side := opposing[0].Side.Opposite()
	var total int64
	for _, o := range opposing {
		total += o.Units
	}

	var out []candidate
	for units := int64(1); units <= total; units++ {
		if !e.canSend(st, price, units, side, 0) {
			break
		}
		o := limit(st.ID(), price, units, side)
		out = append(out, candidate{order: o, perf: e.PotentialPerformance(o)})
	}
	return out
}

// marketMakerCandidates proposes one-unit quotes on every tick strictly
// inside the spread, keeping a random buffer from the side being quoted
// against. A missing side is replaced by the price bound.
func (e *Engine) marketMakerCandidates(st *market.State) []candidate {
	sec := st.Security()
	book := st.Book()
	tick := sec.Tick

	bid, ok := book.BestBid()
	if !ok {
		bid = sec.Minimum
	}
	ask, ok := book.BestAsk()
	if !ok {
		ask = sec.Maximum
	}
	buffer := e.bufferTicks(ask-bid, tick) * tick

	var out []candidate
	for p := bid + tick; p < ask; p += tick {
		if p <= ask-buffer && e.canSend(st, p, 1, domain.SideSell, 0) {
			o := limit(sec.ID, p, 1, domain.SideSell)
			out = append(out, candidate{order: o, perf: e.PotentialPerformance(o)})
		}
		if p >= bid+buffer && e.canSend(st, p, 1, domain.SideBuy, 0) {
			o := limit(sec.ID, p, 1, domain.SideBuy)
			out = append(out, candidate{order: o, perf: e.PotentialPerformance(o)})
		}
	}
	return out
}

// bufferTicks draws the distance, in ticks, kept from the opposing side. It
// is at least one tick and grows with the spread.
func (e *Engine) bufferTicks(spread, tick int64) int64 {
	hi := spread / 3
	if hi < 1 {
		hi = 1
	}
	r := 1 + e.rng.Int63n(hi)
	return (r + tick) / tick
}

// creepCandidates proposes multi-unit orders one tick inside each side once
// the session enters its creep window and the spread is still wide.
func (e *Engine) creepCandidates(st *market.State) []candidate {
	if e.now().Before(e.creepStartsAt()) {
		return nil
	}
	sec := st.Security()
	book := st.Book()
	spread, ok := book.Spread()
	if !ok || spread <= e.cfg.CreepMinSpreadTicks*sec.Tick {
		return nil
	}
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()

	var out []candidate
	for units := int64(1); units <= e.cfg.CreepMaxUnits; units++ {
		if e.canSend(st, bid+sec.Tick, units, domain.SideBuy, 0) {
			o := limit(sec.ID, bid+sec.Tick, units, domain.SideBuy)
			out = append(out, candidate{order: o, perf: e.PotentialPerformance(o)})
		}
	}
	for units := int64(1); units <= e.cfg.CreepMaxUnits; units++ {
		if e.canSend(st, ask-sec.Tick, units, domain.SideSell, 0) {
			o := limit(sec.ID, ask-sec.Tick, units, domain.SideSell)
			out = append(out, candidate{order: o, perf: e.PotentialPerformance(o)})
		}
	}
	return out
}
