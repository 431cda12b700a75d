package portfolio

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/alejandrodnm/capmbot/internal/domain"
)

// Variance is the population variance mean(x²) − mean(x)².
func Variance(payoffs []float64) float64 {
	n := float64(len(payoffs))
	if n == 0 {
		return 0
	}
	var sum, sumSq float64
	for _, x := range payoffs {
		sum += x
		sumSq += x * x
	}
	mean := sum / n
	return max(sumSq/n-mean*mean, 0)
}

// Covariance is mean(aᵢbᵢ) − meanA·meanB. a and b must have equal length.
func Covariance(a, b []float64, meanA, meanB float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return 0
	}
	var cross float64
	for i := range a {
		cross += a[i] * b[i]
	}
	return cross/n - meanA*meanB
}

// centsSquared converts cents² to currency units².
const centsSquared = 100 * 100

// centsVariance computes the variance of cent payoffs with integer sums, so
// a constant vector gives exactly 0, and converts to currency units once.
func centsVariance(p []int64) float64 {
	return centsCovariance(p, p)
}

// centsCovariance is (n·Σaᵢbᵢ − Σa·Σb) / n², in currency units squared.
func centsCovariance(a, b []int64) float64 {
	n := int64(len(a))
	if n == 0 {
		return 0
	}
	var sumA, sumB, cross int64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
		cross += a[i] * b[i]
	}
	return float64(n*cross-sumA*sumB) / float64(n*n) / centsSquared
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

type pairKey struct{ lo, hi int }

func newPairKey(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Statistics caches payoff expectations, variances and pairwise covariances,
// all in currency units. Built once per session.
type Statistics struct {
	ids         []int // sorted
	expected    map[int]float64
	variances   map[int]float64
	covariances map[pairKey]float64
}

// NewStatistics computes the statistics of every security. All securities
// must share the same state space.
func NewStatistics(securities []*domain.Security) (*Statistics, error) {
	st := &Statistics{
		expected:    make(map[int]float64, len(securities)),
		variances:   make(map[int]float64, len(securities)),
		covariances: make(map[pairKey]float64),
	}

	payoffs := make(map[int][]int64, len(securities))
	states := -1
	for _, sec := range securities {
		if states != -1 && sec.States() != states {
			return nil, fmt.Errorf("portfolio.NewStatistics: market %d: %w", sec.ID, domain.ErrStateCountMismatch)
		}
		states = sec.States()

		payoffs[sec.ID] = sec.Payoffs
		st.ids = append(st.ids, sec.ID)
		st.expected[sec.ID] = mean(sec.PayoffUnits())
		st.variances[sec.ID] = centsVariance(sec.Payoffs)
		slog.Debug("portfolio: variance", "market", sec.ID, "variance", st.variances[sec.ID])
	}
	sort.Ints(st.ids)

	for i, a := range st.ids {
		for _, b := range st.ids[i+1:] {
			cov := centsCovariance(payoffs[a], payoffs[b])
			st.covariances[newPairKey(a, b)] = cov
			slog.Debug("portfolio: covariance", "market_a", a, "market_b", b, "covariance", cov)
		}
	}
	return st, nil
}

// IDs returns the security ids in ascending order.
func (s *Statistics) IDs() []int {
	return append([]int(nil), s.ids...)
}

// ExpectedReturn returns the mean payoff of a security in currency units.
func (s *Statistics) ExpectedReturn(id int) float64 {
	return s.expected[id]
}

// Variance returns the cached payoff variance of a security.
func (s *Statistics) Variance(id int) float64 {
	return s.variances[id]
}

// Covariance returns the cached covariance of two securities, in either
// order. The covariance of a security with itself is its variance.
func (s *Statistics) Covariance(a, b int) float64 {
	if a == b {
		return s.variances[a]
	}
	return s.covariances[newPairKey(a, b)]
}

// ZeroVarianceSecurity returns the risk-free instrument, if the session has
// one. With several, the lowest id wins.
func (s *Statistics) ZeroVarianceSecurity() (int, bool) {
	for _, id := range s.ids {
		if s.variances[id] == 0 {
			return id, true
		}
	}
	return 0, false
}
