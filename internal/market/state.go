// Package market holds the per-security view of the session: the order
// book, our order ledger and the unit balances.
package market

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/ledger"
	"github.com/alejandrodnm/capmbot/internal/ports"
)

var ErrInsufficientUnits = errors.New("market: insufficient virtual units")

// Config tunes a market's reconciliation.
type Config struct {
	SyncMaxDelay int
	MaxDelays    ledger.MaxDelays
}

// State is one security's view of the session.
type State struct {
	sec    *domain.Security
	book   domain.Book
	ledger *ledger.Ledger
	units  *Balance

	completedSeen int       // completed orders already reconciled
	start         time.Time // trades before this belong to an earlier session
}

// NewState returns the state of sec, sending orders through sender.
func NewState(sec *domain.Security, sender ports.OrderSender, cfg Config, now func() time.Time) *State {
	return &State{
		sec:    sec,
		book:   domain.Book{MarketID: sec.ID},
		ledger: ledger.New(sec.ID, sender, cfg.MaxDelays, now),
		units:  NewBalance(cfg.SyncMaxDelay),
	}
}

func (s *State) ID() int { return s.sec.ID }
func (s *State) Security() *domain.Security { return s.sec }
func (s *State) Book() domain.Book { return s.book }
func (s *State) Ledger() *ledger.Ledger { return s.ledger }
func (s *State) Units() Balance { return *s.units }
func (s *State) BestBids() []domain.Order { return s.book.BestBids }
func (s *State) BestAsks() []domain.Order { return s.book.BestAsks }
func (s *State) IsValidPrice(p int64) bool { return s.sec.IsValidPrice(p) }
func (s *State) SetSessionStart(t time.Time) { s.start = t }

// UpdateOrderBook replaces the book with a new snapshot and reconciles our
// resting orders.
func (s *State) UpdateOrderBook(entries []domain.Order) []ledger.Outcome {
	s.book = domain.NewBook(s.sec.ID, entries)
	outs := s.ledger.ReconcileOrderBook(s.book.Mine)
	s.apply(outs...)
	return outs
}

// UpdateUnits applies the exchange's unit report.
func (s *State) UpdateUnits(units, available int64) SyncResult {
	before := s.units.Virtual
	res := s.units.Sync(units, available)
	switch res {
	case SyncResynced:
		slog.Info("market: virtual units resynced", "market", s.sec.ID, "from", before, "to", s.units.Virtual)
	case SyncForcedDown:
		slog.Warn("market: virtual units above holdings, forced down", "market", s.sec.ID, "from", before, "to", s.units.Virtual, "units", units)
	}
	return res
}

// UpdateCompleted reconciles the completed orders that are new since the
// previous call. The exchange reports the whole session list every time.
func (s *State) UpdateCompleted(all []domain.Order) []ledger.Outcome {
	if s.completedSeen > len(all) {
		s.completedSeen = 0
	}
	fresh := all[s.completedSeen:]
	s.completedSeen = len(all)

	var mine []domain.Order
	for _, o := range fresh {
		if o.Mine && o.Date.After(s.start) {
			mine = append(mine, o)
		}
	}
	if len(mine) == 0 {
		return nil
	}
	outs := s.ledger.ReconcileCompleted(mine)
	s.apply(outs...)
	return outs
}

// AddOrder stages a limit order as the market's current order.
func (s *State) AddOrder(price, units int64, side domain.OrderSide, role domain.OrderRole) *ledger.Record {
	return s.ledger.Add(price, units, side, role)
}

// SendCurrentOrder transmits the current order. A sell needs enough virtual
// units and reserves them once sent.
func (s *State) SendCurrentOrder() (domain.Order, error) {
	cur := s.ledger.Current()
	if cur == nil {
		return domain.Order{}, ledger.ErrNoCurrentOrder
	}
	o := cur.Order()
	if o.Side == domain.SideSell && s.units.Virtual < o.Units {
		return domain.Order{}, fmt.Errorf("market.SendCurrentOrder: market %d: want %d have %d: %w",
			s.sec.ID, o.Units, s.units.Virtual, ErrInsufficientUnits)
	}
	sent, err := s.ledger.SendCurrent()
	if err != nil {
		return domain.Order{}, err
	}
	if sent.Side == domain.SideSell {
		s.units.Reserve(sent.Units)
	}
	return sent, nil
}

// CancelOrder cancels our order identical to o.
func (s *State) CancelOrder(o domain.Order) (ledger.Outcome, error) {
	out, err := s.ledger.Cancel(o)
	if err != nil {
		return out, fmt.Errorf("market.CancelOrder: %w", err)
	}
	s.apply(out)
	return out, nil
}

// OrderAccepted handles the exchange accepting one of our orders or cancels.
func (s *State) OrderAccepted(o domain.Order) ledger.Outcome {
	if o.Side == domain.SideSell {
		if o.Type == domain.TypeLimit {
			s.units.Available -= o.Units
		} else {
			s.units.Available += o.Units
		}
	}
	return s.ledger.Accept(o)
}

// OrderRejected handles the exchange rejecting one of our orders or cancels.
// A rejected sell gives back its reservation; a rejected sell cancel takes
// back what the cancel released.
func (s *State) OrderRejected(o domain.Order, info string) ledger.Outcome {
	if o.Side == domain.SideSell {
		if o.Type == domain.TypeLimit {
			s.units.Release(o.Units)
		} else {
			s.units.Reserve(o.Units)
		}
	}
	return s.ledger.Reject(o, info)
}

// apply keeps virtual units in step with cancels the ledger sent.
func (s *State) apply(outs ...ledger.Outcome) {
	for _, out := range outs {
		if out.Action == ledger.ActionCancelSent && out.Order.Side == domain.SideSell {
			s.units.Release(out.Order.Units)
		}
	}
}
