// Package scenario loads recorded exchange sessions and replays them
// against the engine through the simulated exchange.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/capmbot/internal/domain"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a session as the exchange would present it: the listed
// markets and the events in arrival order.
type Scenario struct {
	Name    string               `yaml:"name"`
	Start   time.Time            `yaml:"start"`
	Markets []domain.SecurityDef `yaml:"markets"`
	Events  []Event              `yaml:"events"`
}

// Event is one step of the replay. Exactly one field besides At is set.
type Event struct {
	At time.Duration `yaml:"at"` // offset from Start

	Marketplace    *MarketplaceEvent `yaml:"marketplace,omitempty"`
	Holdings       *domain.Holdings  `yaml:"holdings,omitempty"`
	ReportHoldings bool              `yaml:"report_holdings,omitempty"`
	OrderBook      *BookEvent        `yaml:"order_book,omitempty"`
	Fill           *FillEvent        `yaml:"fill,omitempty"`
	Completed      *CompletedEvent   `yaml:"completed,omitempty"`
	RejectNext     int               `yaml:"reject_next,omitempty"`
}

type MarketplaceEvent struct {
	Open    bool   `yaml:"open"`
	Session string `yaml:"session"`
}

// BookEvent lists the other participants' resting orders. Ours are added
// from the exchange.
type BookEvent struct {
	Market int         `yaml:"market"`
	Orders []BookOrder `yaml:"orders"`
}

type BookOrder struct {
	Side  string `yaml:"side"`
	Price int64  `yaml:"price"`
	Units int64  `yaml:"units"`
}

// FillEvent trades against our oldest resting order at Price on Side.
type FillEvent struct {
	Market int    `yaml:"market"`
	Side   string `yaml:"side"`
	Price  int64  `yaml:"price"`
	Units  int64  `yaml:"units"`
}

// CompletedEvent reports the market's completed orders to the engine.
type CompletedEvent struct {
	Market int `yaml:"market"`
}

// Kind names the event for logs.
func (e Event) Kind() string {
	switch {
	case e.Marketplace != nil:
		return "marketplace"
	case e.Holdings != nil:
		return "holdings"
	case e.ReportHoldings:
		return "report_holdings"
	case e.OrderBook != nil:
		return "order_book"
	case e.Fill != nil:
		return "fill"
	case e.Completed != nil:
		return "completed"
	case e.RejectNext > 0:
		return "reject_next"
	default:
		return ""
	}
}

func (e Event) kinds() int {
	n := 0
	for _, set := range []bool{
		e.Marketplace != nil,
		e.Holdings != nil,
		e.ReportHoldings,
		e.OrderBook != nil,
		e.Fill != nil,
		e.Completed != nil,
		e.RejectNext > 0,
	} {
		if set {
			n++
		}
	}
	return n
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario.Load: read %q: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario.Load: %q: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the structure of the scenario. Security definitions are
// validated by the engine.
func (sc *Scenario) Validate() error {
	if len(sc.Markets) == 0 {
		return fmt.Errorf("%w: no markets", ErrInvalidScenario)
	}
	var last time.Duration
	for i, ev := range sc.Events {
		if n := ev.kinds(); n != 1 {
			return fmt.Errorf("%w: event %d has %d kinds, want 1", ErrInvalidScenario, i, n)
		}
		if ev.At < last {
			return fmt.Errorf("%w: event %d at %s goes back in time", ErrInvalidScenario, i, ev.At)
		}
		last = ev.At

		if ev.OrderBook != nil {
			for _, o := range ev.OrderBook.Orders {
				if _, err := ParseSide(o.Side); err != nil {
					return fmt.Errorf("%w: event %d: %v", ErrInvalidScenario, i, err)
				}
				if o.Units <= 0 {
					return fmt.Errorf("%w: event %d: non-positive units", ErrInvalidScenario, i)
				}
			}
		}
		if ev.Fill != nil {
			if _, err := ParseSide(ev.Fill.Side); err != nil {
				return fmt.Errorf("%w: event %d: %v", ErrInvalidScenario, i, err)
			}
		}
	}
	return nil
}

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (domain.OrderSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b":
		return domain.SideBuy, nil
	case "sell", "s":
		return domain.SideSell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}
