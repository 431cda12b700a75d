package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderSide is the direction of an order.
type OrderSide int

const (
	SideBuy OrderSide = iota + 1
	SideSell
)

func (s OrderSide) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side a counterparty would take.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes resting limit orders from cancel requests.
type OrderType int

const (
	TypeLimit OrderType = iota + 1
	TypeCancel
)

func (t OrderType) String() string {
	switch t {
	case TypeLimit:
		return "LIMIT"
	case TypeCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// OrderRole governs how patient the engine is with a resting order.
type OrderRole int

const (
	RoleMarketMaker OrderRole = iota
	RoleReactive
)

func (r OrderRole) String() string {
	if r == RoleMarketMaker {
		return "MM"
	}
	return "RE"
}

// OrderStatus is the local lifecycle of an order record.
type OrderStatus int

const (
	StatusInactive OrderStatus = iota
	StatusMade                 // built, not transmitted yet
	StatusPending              // transmitted, waiting for the exchange
	StatusAccepted             // resting in the book
)

func (s OrderStatus) String() string {
	switch s {
	case StatusMade:
		return "MADE"
	case StatusPending:
		return "PENDING"
	case StatusAccepted:
		return "ACCEPTED"
	default:
		return "INACTIVE"
	}
}

// Order is the exchange-shaped order. Prices are in cents.
type Order struct {
	ID       string // exchange-assigned, empty until acknowledged
	Ref      string // engine-generated reference
	MarketID int
	Price    int64
	Units    int64
	Side     OrderSide
	Type     OrderType
	Mine     bool
	Date     time.Time
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %d@%d m=%d ref=%s id=%s",
		o.Type, o.Side, o.Units, o.Price, o.MarketID, o.Ref, o.ID)
}

// Value returns price × units in cents.
func (o Order) Value() int64 {
	return o.Price * o.Units
}

// Comparison is the result of matching two orders.
type Comparison int

const (
	Different Comparison = iota
	Identical            // same ref or same exchange id
	SameOrder            // same side, type, price and units
	SamePrice            // same side, type and price; units differ
)

func (c Comparison) String() string {
	switch c {
	case Identical:
		return "IDENTICAL"
	case SameOrder:
		return "SAME_ORDER"
	case SamePrice:
		return "SAME_PRICE"
	default:
		return "DIFFERENT"
	}
}

// Compare decides whether a and b refer to the same order.
// Orders that differ in side or type never match.
func Compare(a, b Order) Comparison {
	switch {
	case a.Side != b.Side || a.Type != b.Type:
		return Different
	case a.Ref != "" && a.Ref == b.Ref:
		return Identical
	case a.ID != "" && a.ID == b.ID:
		return Identical
	case a.Price == b.Price && a.Units == b.Units:
		return SameOrder
	case a.Price == b.Price:
		return SamePrice
	default:
		return Different
	}
}

const (
	refTimeLayout = "2006-01-02 15:04:05"
	refSep        = "-"
)

// NewRef builds the reference string used to correlate acknowledgements with
// local records before the exchange assigns an id.
//
//	:<time>-<nonce>-<price>-<units>-<L|M>-<B|S>-<market>-<MM|RE>
func NewRef(now time.Time, price, units int64, typ OrderType, side OrderSide, marketID int, role OrderRole) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	typeChar := "L"
	if typ == TypeCancel {
		typeChar = "M"
	}
	sideChar := "B"
	if side == SideSell {
		sideChar = "S"
	}
	return ":" + strings.Join([]string{
		now.Format(refTimeLayout),
		nonce,
		fmt.Sprint(price),
		fmt.Sprint(units),
		typeChar,
		sideChar,
		fmt.Sprint(marketID),
		role.String(),
	}, refSep)
}

// RoleFromRef recovers the role encoded at the end of a reference.
// Unknown or empty references are treated as reactive.
func RoleFromRef(ref string) OrderRole {
	if strings.HasSuffix(ref, refSep+RoleMarketMaker.String()) {
		return RoleMarketMaker
	}
	return RoleReactive
}
