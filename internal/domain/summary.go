package domain

import "time"

// MarketSummary is the end-of-replay view of one market.
type MarketSummary struct {
	ID       int
	Name     string
	Expected float64 // expected payoff, cents
	Units    int64
	Virtual  int64
	BestBid  int64 // 0 when the side is empty
	BestAsk  int64
	Current  string // current order, empty when none
	Records  int    // records the ledger tracks
}

// SessionSummary is what the console prints after a replay.
type SessionSummary struct {
	SessionID   string
	GeneratedAt time.Time
	Cash        int64
	VirtualCash int64
	Performance float64
	Optimal     bool
	Markets     []MarketSummary

	// Filled in by the caller from the exchange and the journal.
	Events   int
	Sent     int
	Accepted int
	Rejected int
	Journal  map[string]int
}
