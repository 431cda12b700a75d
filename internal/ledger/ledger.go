// Package ledger keeps the lifecycle of the orders we placed in one market
// and reconciles it against what the exchange reports.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/ports"
)

var (
	ErrInvalidState   = errors.New("ledger: invalid record state")
	ErrNoCurrentOrder = errors.New("ledger: no current order")
	ErrUnknownOrder   = errors.New("ledger: unknown order")
)

// OutcomeKind says how an exchange event related to the ledger.
type OutcomeKind int

const (
	Matched     OutcomeKind = iota // an existing record handled it
	Synthesized                    // no record, one was created from exchange truth
	Ignored                        // no record and nothing to recover
)

func (k OutcomeKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case Synthesized:
		return "synthesized"
	default:
		return "ignored"
	}
}

// Action is what happened to the record as a consequence.
type Action int

const (
	ActionNone Action = iota
	ActionAccepted
	ActionRemoved
	ActionReverted   // cancel rejected, order still live
	ActionCancelSent // a cancel was transmitted for the order
	ActionPartialFill
)

func (a Action) String() string {
	switch a {
	case ActionAccepted:
		return "accepted"
	case ActionRemoved:
		return "removed"
	case ActionReverted:
		return "reverted"
	case ActionCancelSent:
		return "cancel_sent"
	case ActionPartialFill:
		return "partial_fill"
	default:
		return "none"
	}
}

// Outcome is one reconciliation step. Order is the record's order at the
// time of the step (for ActionCancelSent, the units the cancel releases).
type Outcome struct {
	Kind   OutcomeKind
	Action Action
	Order  domain.Order
	Role   domain.OrderRole
}

// Ledger holds the records of one market. At most one record, the current
// one, is actively pursued by the decision loop.
type Ledger struct {
	marketID int
	records  []*Record
	current  *Record
	sender   ports.OrderSender
	limits   MaxDelays
	now      func() time.Time
}

// New returns an empty ledger that transmits through sender.
func New(marketID int, sender ports.OrderSender, limits MaxDelays, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{marketID: marketID, sender: sender, limits: limits, now: now}
}

func (l *Ledger) newRecord(o domain.Order, role domain.OrderRole, status domain.OrderStatus) *Record {
	r := &Record{
		order:  o,
		role:   role,
		status: status,
		limits: l.limits,
		sender: l.sender,
		now:    l.now,
	}
	l.records = append(l.records, r)
	return r
}

// Add creates a limit order record in Made state and makes it current.
// A current record that was never sent is dropped. Pending and Accepted
// records are kept; the engine does not decide on a market while one is
// unresolved.
func (l *Ledger) Add(price, units int64, side domain.OrderSide, role domain.OrderRole) *Record {
	if l.current != nil && l.current.status == domain.StatusMade {
		slog.Warn("ledger: current order not sent, replacing", "market", l.marketID, "order", l.current.order.String())
		l.drop(l.current)
	}
	now := l.now()
	o := domain.Order{
		Ref:      domain.NewRef(now, price, units, domain.TypeLimit, side, l.marketID, role),
		MarketID: l.marketID,
		Price:    price,
		Units:    units,
		Side:     side,
		Type:     domain.TypeLimit,
		Mine:     true,
		Date:     now,
	}
	r := l.newRecord(o, role, domain.StatusMade)
	l.current = r
	slog.Debug("ledger: added order", "market", l.marketID, "order", o.String(), "role", role)
	return r
}

// Current returns the record the decision loop is pursuing, or nil.
func (l *Ledger) Current() *Record {
	return l.current
}

// SendCurrent transmits the current record. On error the record stays Made.
func (l *Ledger) SendCurrent() (domain.Order, error) {
	if l.current == nil {
		return domain.Order{}, ErrNoCurrentOrder
	}
	if err := l.current.send(); err != nil {
		return domain.Order{}, fmt.Errorf("ledger.SendCurrent: market %d: %w", l.marketID, err)
	}
	return l.current.order, nil
}

// Cancel issues a cancel for the record identical to o.
func (l *Ledger) Cancel(o domain.Order) (Outcome, error) {
	r := l.Get(o)
	if r == nil {
		return Outcome{Kind: Ignored, Order: o}, fmt.Errorf("ledger.Cancel: %s: %w", o, ErrUnknownOrder)
	}
	return l.cancel(r)
}

func (l *Ledger) cancel(r *Record) (Outcome, error) {
	out := Outcome{Kind: Matched, Order: r.order, Role: r.role}
	sent, err := r.cancel()
	if err != nil {
		return out, fmt.Errorf("ledger.cancel: market %d: %w", l.marketID, err)
	}
	if sent {
		out.Action = ActionCancelSent
		slog.Debug("ledger: cancel sent", "market", l.marketID, "order", r.order.String())
	}
	return out, nil
}

// Get returns the record identical to o (same reference or exchange id).
func (l *Ledger) Get(o domain.Order) *Record {
	for _, r := range l.records {
		if r.compare(o) == domain.Identical {
			return r
		}
	}
	return nil
}

// Remove drops the record identical to o and returns it.
func (l *Ledger) Remove(o domain.Order) *Record {
	r := l.Get(o)
	if r != nil {
		l.drop(r)
	}
	return r
}

func (l *Ledger) drop(r *Record) {
	l.records = slices.DeleteFunc(l.records, func(x *Record) bool { return x == r })
	if l.current == r {
		l.current = nil
	}
	slog.Debug("ledger: removed order", "market", l.marketID, "order", r.order.String())
}

// Records returns the live records, oldest first.
func (l *Ledger) Records() []*Record {
	return slices.Clone(l.records)
}

// ReconcileOrderBook applies a snapshot of our resting orders. Matched
// records become Accepted and age by one snapshot; records that run out of
// patience are cancelled. Orders with no record are adopted as reactive
// unless their reference says otherwise.
func (l *Ledger) ReconcileOrderBook(mine []domain.Order) []Outcome {
	mine = sortedByDate(mine)
	seen := make(map[*Record]bool, len(mine))
	var outcomes []Outcome

	for _, o := range mine {
		r := l.Get(o)
		if r == nil {
			role := domain.RoleFromRef(o.Ref)
			slog.Warn("ledger: unmatched book order, adopting", "market", l.marketID, "order", o.String(), "role", role)
			r = l.newRecord(o, role, domain.StatusAccepted)
			seen[r] = true
			outcomes = append(outcomes, Outcome{Kind: Synthesized, Action: ActionAccepted, Order: o, Role: role})
			continue
		}
		seen[r] = true
		r.unconfirmed = false

		if r.status != domain.StatusAccepted {
			slog.Warn("ledger: book shows order before ack", "market", l.marketID, "order", o.String(), "status", r.status)
			r.status = domain.StatusAccepted
			if r.order.ID == "" {
				r.order.ID = o.ID
			}
			outcomes = append(outcomes, Outcome{Kind: Matched, Action: ActionAccepted, Order: r.order, Role: r.role})
		}

		if r.delayed() {
			out, err := l.cancel(r)
			if err != nil {
				slog.Warn("ledger: cancel failed", "market", l.marketID, "error", err)
				continue
			}
			if out.Action == ActionCancelSent {
				outcomes = append(outcomes, out)
			}
		}
	}

	for _, r := range l.Records() {
		if r.unconfirmed && !seen[r] {
			slog.Info("ledger: order gone after rejected cancel", "market", l.marketID, "order", r.order.String())
			l.drop(r)
			outcomes = append(outcomes, Outcome{Kind: Matched, Action: ActionRemoved, Order: r.order, Role: r.role})
		}
	}
	return outcomes
}

// ReconcileCompleted applies our trades completed since the last call.
// A trade that covers the whole record removes it; a smaller trade at the
// same price is a partial fill.
func (l *Ledger) ReconcileCompleted(trades []domain.Order) []Outcome {
	trades = sortedByDate(trades)
	var outcomes []Outcome

	for _, t := range trades {
		out := Outcome{Kind: Ignored, Order: t}
		for _, r := range l.recordsByDate() {
			c := domain.Compare(r.order, t)
			full := c == domain.SameOrder || (c == domain.Identical && r.order.Units == t.Units)
			partial := (c == domain.SamePrice || c == domain.Identical) && r.order.Units > t.Units

			if full {
				l.drop(r)
				out = Outcome{Kind: Matched, Action: ActionRemoved, Order: r.order, Role: r.role}
				break
			}
			if partial {
				cancelRest := r.partialTraded(t)
				out = Outcome{Kind: Matched, Action: ActionPartialFill, Order: r.order, Role: r.role}
				slog.Info("ledger: partial fill", "market", l.marketID, "order", r.order.String(), "filled", t.Units)
				if cancelRest {
					outcomes = append(outcomes, out)
					var err error
					out, err = l.cancel(r)
					if err != nil {
						slog.Warn("ledger: cancel failed", "market", l.marketID, "error", err)
					}
				}
				break
			}
		}
		if out.Kind == Ignored {
			slog.Debug("ledger: trade matches no record", "market", l.marketID, "trade", t.String())
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Accept handles an exchange acknowledgement. An accepted cancel removes
// its record; an unmatched cancel ack is ignored; an unmatched limit ack is
// adopted.
func (l *Ledger) Accept(o domain.Order) Outcome {
	r := l.Get(o)
	switch {
	case o.Type == domain.TypeCancel && r != nil:
		l.drop(r)
		return Outcome{Kind: Matched, Action: ActionRemoved, Order: r.order, Role: r.role}
	case o.Type == domain.TypeCancel:
		slog.Debug("ledger: cancel ack matches no record", "market", l.marketID, "order", o.String())
		return Outcome{Kind: Ignored, Order: o}
	case r != nil:
		r.accepted(o)
		return Outcome{Kind: Matched, Action: ActionAccepted, Order: r.order, Role: r.role}
	default:
		role := domain.RoleFromRef(o.Ref)
		slog.Warn("ledger: ack matches no record, adopting", "market", l.marketID, "order", o.String(), "role", role)
		l.newRecord(o, role, domain.StatusAccepted)
		return Outcome{Kind: Synthesized, Action: ActionAccepted, Order: o, Role: role}
	}
}

// Reject handles an exchange rejection. A rejected limit order is removed;
// a rejected cancel leaves its order live but pending confirmation from the
// next snapshot.
func (l *Ledger) Reject(o domain.Order, info string) Outcome {
	r := l.Get(o)
	if r == nil {
		slog.Warn("ledger: rejection matches no record", "market", l.marketID, "order", o.String(), "info", info)
		return Outcome{Kind: Ignored, Order: o}
	}
	if o.Type == domain.TypeCancel {
		r.cancelRejected()
		slog.Info("ledger: cancel rejected", "market", l.marketID, "order", r.order.String(), "info", info)
		return Outcome{Kind: Matched, Action: ActionReverted, Order: r.order, Role: r.role}
	}
	l.drop(r)
	slog.Info("ledger: order rejected", "market", l.marketID, "order", r.order.String(), "info", info)
	return Outcome{Kind: Matched, Action: ActionRemoved, Order: r.order, Role: r.role}
}

func (l *Ledger) recordsByDate() []*Record {
	rs := l.Records()
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].order.Date.Before(rs[j].order.Date) })
	return rs
}

func sortedByDate(orders []domain.Order) []domain.Order {
	out := slices.Clone(orders)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
