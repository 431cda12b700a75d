package ports

import (
	"context"
	"time"
)

// JournalKind classifies an entry of the engine audit trail.
type JournalKind string

const (
	JournalSent      JournalKind = "SENT"
	JournalAccepted  JournalKind = "ACCEPTED"
	JournalRejected  JournalKind = "REJECTED"
	JournalFill      JournalKind = "FILL"
	JournalDecision  JournalKind = "DECISION"
	JournalResync    JournalKind = "RESYNC"
	JournalRecovered JournalKind = "RECOVERED"
)

// JournalEntry is one append-only record of engine activity.
type JournalEntry struct {
	Session     string
	At          time.Time
	Kind        JournalKind
	MarketID    int
	Ref         string
	Side        string
	Type        string
	Price       int64
	Units       int64
	Role        string
	Performance float64
	Info        string
}

// Journal records engine activity for post-session analysis. Record must not
// block the caller.
type Journal interface {
	Record(entry JournalEntry)
	Close(ctx context.Context) error
}

// NopJournal discards every entry.
type NopJournal struct{}

func (NopJournal) Record(JournalEntry) {}
func (NopJournal) Close(context.Context) error { return nil }
