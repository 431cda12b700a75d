package engine

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/ledger"
	"github.com/alejandrodnm/capmbot/internal/market"
	"github.com/alejandrodnm/capmbot/internal/ports"
)

const (
	opOrderBook   = "order_book"
	opHoldings    = "holdings"
	opCompleted   = "completed_orders"
	opAccepted    = "order_accepted"
	opRejected    = "order_rejected"
	opMarketplace = "marketplace_info"
)

// OnOrderBook reconciles our resting orders against a book snapshot and then
// decides what to do in that market.
func (e *Engine) OnOrderBook(marketID int, entries []domain.Order) {
	e.guard(opOrderBook, func() error {
		st, err := e.market(marketID)
		if err != nil {
			return err
		}
		e.applyOutcomes(opOrderBook, st.UpdateOrderBook(entries))
		e.decide(st)
		return nil
	})
}

// OnHoldings applies the exchange's cash and unit report.
func (e *Engine) OnHoldings(h domain.Holdings) {
	e.guard(opHoldings, func() error {
		before := e.cash.Virtual
		e.logSync("cash", 0, before, e.cash.Sync(h.Cash, h.AvailableCash), e.cash.Virtual)

		ids := make([]int, 0, len(h.Markets))
		for id := range h.Markets {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			st, ok := e.markets[id]
			if !ok {
				slog.Warn("engine: holdings for unknown market", "market", id)
				continue
			}
			u := h.Markets[id]
			before := st.Units().Virtual
			e.logSync("units", id, before, st.UpdateUnits(u.Units, u.Available), st.Units().Virtual)
		}

		perf := e.Performance()
		e.metrics.Performance(perf)
		slog.Info("engine: holdings",
			"cash", domain.FormatCents(h.Cash),
			"available_cash", domain.FormatCents(h.AvailableCash),
			"virtual_cash", domain.FormatCents(e.cash.Virtual),
			"performance", perf,
			"optimal", e.IsPortfolioOptimal(),
		)
		return nil
	})
}

// OnCompletedOrders reconciles the session's completed orders of a market.
func (e *Engine) OnCompletedOrders(marketID int, orders []domain.Order) {
	e.guard(opCompleted, func() error {
		st, err := e.market(marketID)
		if err != nil {
			return err
		}
		e.applyOutcomes(opCompleted, st.UpdateCompleted(orders))
		return nil
	})
}

// OnOrderAccepted handles the acknowledgement of an order or cancel.
func (e *Engine) OnOrderAccepted(o domain.Order) {
	e.guard(opAccepted, func() error {
		st, err := e.market(o.MarketID)
		if err != nil {
			return err
		}
		out := st.OrderAccepted(o)
		e.record(ports.JournalAccepted, o, domain.RoleFromRef(o.Ref), 0, "")
		e.applyOutcomes(opAccepted, []ledger.Outcome{out})
		return nil
	})
}

// OnOrderRejected handles the rejection of an order or cancel. Buy-side cash
// is restored here; units are restored by the market.
func (e *Engine) OnOrderRejected(info string, o domain.Order) {
	e.guard(opRejected, func() error {
		st, err := e.market(o.MarketID)
		if err != nil {
			return err
		}
		if o.Side == domain.SideBuy {
			if o.Type == domain.TypeLimit {
				e.cash.Release(o.Value())
			} else {
				e.cash.Reserve(o.Value())
			}
		}
		out := st.OrderRejected(o, info)
		e.metrics.OrderRejected(o.Type.String())
		e.record(ports.JournalRejected, o, domain.RoleFromRef(o.Ref), 0, info)
		slog.Warn("engine: order rejected", "market", o.MarketID, "order", o.String(), "info", info)
		e.applyOutcomes(opRejected, []ledger.Outcome{out})
		return nil
	})
}

// OnMarketplaceInfo tracks the marketplace opening and closing. Opening
// restarts the session clock.
func (e *Engine) OnMarketplaceInfo(open bool, sessionID string) {
	e.guard(opMarketplace, func() error {
		switch {
		case open && !e.open:
			e.startSession(e.now())
			slog.Info("engine: marketplace open", "session", sessionID, "creep_from", e.creepStartsAt())
		case !open && e.open:
			slog.Info("engine: marketplace closed", "session", sessionID)
		}
		e.open = open
		return nil
	})
}

// guard runs one callback. Errors and panics are logged with the operation
// name and the engine carries on with the next event.
func (e *Engine) guard(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: cycle panicked", "op", op, "panic", r, "stack", string(debug.Stack()))
			e.metrics.CycleFailed(op)
		}
	}()
	if err := fn(); err != nil {
		slog.Error("engine: cycle failed", "op", op, "error", err)
		e.metrics.CycleFailed(op)
	}
}

func (e *Engine) market(id int) (*market.State, error) {
	st, ok := e.markets[id]
	if !ok {
		return nil, fmt.Errorf("engine: market %d: %w", id, domain.ErrUnknownMarket)
	}
	return st, nil
}

// applyOutcomes credits buy-side cash for cancels the ledger sent and feeds
// the journal and metrics.
func (e *Engine) applyOutcomes(op string, outs []ledger.Outcome) {
	for _, out := range outs {
		e.metrics.Reconciled(out.Kind.String())
		o := out.Order

		switch {
		case out.Action == ledger.ActionCancelSent:
			if o.Side == domain.SideBuy {
				e.cash.Release(o.Value())
			}
			c := o
			c.Type = domain.TypeCancel
			e.metrics.OrderSent(out.Role.String())
			e.record(ports.JournalSent, c, out.Role, 0, op)
		case out.Kind == ledger.Synthesized:
			e.record(ports.JournalRecovered, o, out.Role, 0, op)
		case out.Action == ledger.ActionPartialFill:
			e.record(ports.JournalFill, o, out.Role, 0, "partial")
		case out.Action == ledger.ActionRemoved && op == opCompleted:
			e.record(ports.JournalFill, o, out.Role, 0, "full")
		}
	}
}

func (e *Engine) logSync(balance string, marketID int, before int64, res market.SyncResult, after int64) {
	switch res {
	case market.SyncResynced, market.SyncForcedDown:
		e.metrics.Resynced(balance)
		e.journal.Record(ports.JournalEntry{
			Session:  e.sessionID,
			At:       e.now(),
			Kind:     ports.JournalResync,
			MarketID: marketID,
			Units:    after,
			Info:     fmt.Sprintf("%s %s %d->%d", balance, res, before, after),
		})
	case market.SyncWaiting:
		slog.Debug("engine: balance disagrees", "balance", balance, "market", marketID, "virtual", before)
	}
}

func (e *Engine) record(kind ports.JournalKind, o domain.Order, role domain.OrderRole, perf float64, info string) {
	e.journal.Record(ports.JournalEntry{
		Session:     e.sessionID,
		At:          e.now(),
		Kind:        kind,
		MarketID:    o.MarketID,
		Ref:         o.Ref,
		Side:        o.Side.String(),
		Type:        o.Type.String(),
		Price:       o.Price,
		Units:       o.Units,
		Role:        role.String(),
		Performance: perf,
		Info:        info,
	})
}
