package portfolio

import (
	"maps"

	"github.com/alejandrodnm/capmbot/internal/domain"
)

// Evaluator scores holdings with the mean-variance objective
//
//	cash + Σ E[s]·h(s) − b·Var(Σ h(s)·payoff(s))
//
// Cash is given in cents and converted to currency units.
type Evaluator struct {
	stats       *Statistics
	riskPenalty float64
}

// NewEvaluator returns an evaluator with risk penalty b.
func NewEvaluator(stats *Statistics, riskPenalty float64) *Evaluator {
	return &Evaluator{stats: stats, riskPenalty: riskPenalty}
}

// RiskPenalty returns b.
func (e *Evaluator) RiskPenalty() float64 {
	return e.riskPenalty
}

// Statistics returns the payoff statistics the evaluator scores with.
func (e *Evaluator) Statistics() *Statistics {
	return e.stats
}

// PayoffVariance is Σ h(s)²·Var(s) + Σ_{s<t} 2·h(s)·h(t)·Cov(s,t).
func (e *Evaluator) PayoffVariance(holdings map[int]int64) float64 {
	var total float64
	ids := e.stats.ids
	for i, a := range ids {
		ha := float64(holdings[a])
		if ha == 0 {
			continue
		}
		total += ha * ha * e.stats.Variance(a)
		for _, b := range ids[i+1:] {
			hb := float64(holdings[b])
			if hb == 0 {
				continue
			}
			total += 2 * ha * hb * e.stats.Covariance(a, b)
		}
	}
	return total
}

// Performance evaluates cash (cents) plus holdings.
func (e *Evaluator) Performance(cash int64, holdings map[int]int64) float64 {
	expected := domain.CentsToUnits(cash)
	for _, id := range e.stats.ids {
		expected += e.stats.ExpectedReturn(id) * float64(holdings[id])
	}
	return expected - e.riskPenalty*e.PayoffVariance(holdings)
}

// Potential evaluates the portfolio that would result from every order
// executing in full. It never mutates its arguments.
func (e *Evaluator) Potential(cash int64, holdings map[int]int64, orders ...domain.Order) float64 {
	h := maps.Clone(holdings)
	if h == nil {
		h = make(map[int]int64)
	}
	for _, o := range orders {
		switch o.Side {
		case domain.SideBuy:
			h[o.MarketID] += o.Units
			cash -= o.Value()
		case domain.SideSell:
			h[o.MarketID] -= o.Units
			cash += o.Value()
		}
	}
	return e.Performance(cash, h)
}
