package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SecurityDef is a security as the exchange describes it. Description holds
// the payoff of each end-of-session state, in cents, comma separated.
type SecurityDef struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	Item        string `yaml:"item"`
	Description string `yaml:"description"`
	Minimum     int64  `yaml:"minimum"`
	Maximum     int64  `yaml:"maximum"`
	Tick        int64  `yaml:"tick"`
}

// StateSpace holds the number of discrete end-of-session states shared by
// every security of a session. The first security fixes it.
type StateSpace struct {
	count int
}

// NewStateSpace returns an unset state space.
func NewStateSpace() *StateSpace {
	return &StateSpace{}
}

// Count returns the established number of states, 0 while unset.
func (s *StateSpace) Count() int {
	return s.count
}

// establish fixes the state count on first use and checks it afterwards.
func (s *StateSpace) establish(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: no payoff states", ErrInvalidPayoff)
	}
	if s.count == 0 {
		s.count = n
		return nil
	}
	if s.count != n {
		return fmt.Errorf("%w: got %d, session has %d", ErrStateCountMismatch, n, s.count)
	}
	return nil
}

// Security is an immutable tradable instrument.
type Security struct {
	ID          int
	Name        string
	Item        string
	Minimum     int64
	Maximum     int64
	Tick        int64
	Payoffs     []int64 // cents, one per state
	states      *StateSpace
	expectedRet float64
}

// NewSecurity validates def against the session state space and builds a
// Security. A payoff vector whose length disagrees with the state space is
// a fatal configuration error.
func NewSecurity(def SecurityDef, states *StateSpace) (*Security, error) {
	if def.Tick <= 0 || def.Maximum <= def.Minimum {
		return nil, fmt.Errorf("domain.NewSecurity: market %d: %w (min=%d max=%d tick=%d)",
			def.ID, ErrInvalidSecurity, def.Minimum, def.Maximum, def.Tick)
	}
	payoffs, err := ParsePayoffs(def.Description)
	if err != nil {
		return nil, fmt.Errorf("domain.NewSecurity: market %d: %w", def.ID, err)
	}
	if err := states.establish(len(payoffs)); err != nil {
		return nil, fmt.Errorf("domain.NewSecurity: market %d: %w", def.ID, err)
	}

	var sum int64
	for _, p := range payoffs {
		sum += p
	}
	return &Security{
		ID:          def.ID,
		Name:        def.Name,
		Item:        def.Item,
		Minimum:     def.Minimum,
		Maximum:     def.Maximum,
		Tick:        def.Tick,
		Payoffs:     payoffs,
		states:      states,
		expectedRet: float64(sum) / float64(states.Count()),
	}, nil
}

// ExpectedReturn is the mean payoff in cents.
func (s *Security) ExpectedReturn() float64 {
	return s.expectedRet
}

// States returns the session state count.
func (s *Security) States() int {
	return s.states.Count()
}

// PayoffUnits returns the payoff vector in currency units.
func (s *Security) PayoffUnits() []float64 {
	out := make([]float64, len(s.Payoffs))
	for i, p := range s.Payoffs {
		out[i] = CentsToUnits(p)
	}
	return out
}

// IsValidPrice reports whether p lies strictly inside the price bounds and on
// the tick grid.
func (s *Security) IsValidPrice(p int64) bool {
	return s.Minimum < p && p < s.Maximum && (p-s.Minimum)%s.Tick == 0
}

// ParsePayoffs parses a comma separated list of whole-cent payoffs.
func ParsePayoffs(description string) ([]int64, error) {
	fields := strings.Split(description, ",")
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		d, err := decimal.NewFromString(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPayoff, f)
		}
		if !d.IsInteger() {
			return nil, fmt.Errorf("%w: %q is not whole cents", ErrInvalidPayoff, f)
		}
		out = append(out, d.IntPart())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty description", ErrInvalidPayoff)
	}
	return out, nil
}
