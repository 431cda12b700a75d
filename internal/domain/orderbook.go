package domain

import "sort"

// Book is the trader's view of one market's order book snapshot.
// BestBids and BestAsks hold every resting order (not ours) at the best
// price, so quantity at the top of the book can be aggregated.
type Book struct {
	MarketID int
	BestBids []Order // all at the highest bid price
	BestAsks []Order // all at the lowest ask price
	Mine     []Order // our own resting orders
}

// NewBook partitions a snapshot into our orders and the best levels of the
// rest of the market.
func NewBook(marketID int, entries []Order) Book {
	b := Book{MarketID: marketID}
	var buys, sells []Order
	for _, o := range entries {
		switch {
		case o.Mine:
			b.Mine = append(b.Mine, o)
		case o.Side == SideBuy:
			buys = append(buys, o)
		case o.Side == SideSell:
			sells = append(sells, o)
		}
	}

	sort.SliceStable(buys, func(i, j int) bool { return buys[i].Price > buys[j].Price })
	sort.SliceStable(sells, func(i, j int) bool { return sells[i].Price < sells[j].Price })

	b.BestBids = topLevel(buys)
	b.BestAsks = topLevel(sells)
	return b
}

// topLevel returns the price-tied prefix of a sorted side.
func topLevel(sorted []Order) []Order {
	if len(sorted) == 0 {
		return nil
	}
	n := 1
	for n < len(sorted) && sorted[n].Price == sorted[0].Price {
		n++
	}
	return sorted[:n]
}

// BestBid returns the highest bid price, false if there are no bids.
func (b Book) BestBid() (int64, bool) {
	if len(b.BestBids) == 0 {
		return 0, false
	}
	return b.BestBids[0].Price, true
}

// BestAsk returns the lowest ask price, false if there are no asks.
func (b Book) BestAsk() (int64, bool) {
	if len(b.BestAsks) == 0 {
		return 0, false
	}
	return b.BestAsks[0].Price, true
}

// BidUnits is the total quantity resting at the best bid.
func (b Book) BidUnits() int64 {
	return sumUnits(b.BestBids)
}

// AskUnits is the total quantity resting at the best ask.
func (b Book) AskUnits() int64 {
	return sumUnits(b.BestAsks)
}

// Spread returns ask − bid, false unless both sides are present.
func (b Book) Spread() (int64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask - bid, true
}

func sumUnits(orders []Order) int64 {
	var total int64
	for _, o := range orders {
		total += o.Units
	}
	return total
}
