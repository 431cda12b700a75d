package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/capmbot/internal/ports"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS journal (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session     TEXT    NOT NULL,
    at          DATETIME NOT NULL,
    kind        TEXT    NOT NULL,
    market_id   INTEGER NOT NULL DEFAULT 0,
    ref         TEXT    NOT NULL DEFAULT '',
    side        TEXT    NOT NULL DEFAULT '',
    type        TEXT    NOT NULL DEFAULT '',
    price       INTEGER NOT NULL DEFAULT 0,
    units       INTEGER NOT NULL DEFAULT 0,
    role        TEXT    NOT NULL DEFAULT '',
    performance REAL    NOT NULL DEFAULT 0,
    info        TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_journal_session ON journal(session, id);
CREATE INDEX IF NOT EXISTS idx_journal_kind    ON journal(session, kind);
`

const defaultJournalBuffer = 1024

// journalItem is either an entry to write or a flush marker.
type journalItem struct {
	entry *ports.JournalEntry
	ack   chan struct{}
}

// Journal is an append-only SQLite audit trail of engine activity. Record
// never blocks: entries go through a buffered channel drained by a single
// writer goroutine and are dropped with a warning when the buffer is full.
type Journal struct {
	db    *sql.DB
	items chan journalItem
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// NewJournal opens (or creates) the journal database at path and starts the
// writer. Use ":memory:" for tests.
func NewJournal(path string, buffer int) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewJournal: open %q: %w", path, err)
	}
	// SQLite does not support concurrent writes; a single connection also
	// keeps ":memory:" databases alive across statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewJournal: apply schema: %w", err)
	}

	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	j := &Journal{
		db:    db,
		items: make(chan journalItem, buffer),
		done:  make(chan struct{}),
	}
	go j.run()
	return j, nil
}

// Record queues an entry for writing.
func (j *Journal) Record(e ports.JournalEntry) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.items <- journalItem{entry: &e}:
	default:
		n := j.dropped.Add(1)
		slog.Warn("storage: journal buffer full, entry dropped",
			"kind", e.Kind,
			"market", e.MarketID,
			"dropped", n,
		)
	}
}

// Flush waits until every entry recorded before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return nil
	}
	select {
	case j.items <- journalItem{ack: ack}:
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	j.mu.RUnlock()

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting entries, drains the buffer and closes the database.
// If ctx expires first, pending entries are lost.
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.items)
	j.mu.Unlock()

	var drainErr error
	select {
	case <-j.done:
	case <-ctx.Done():
		drainErr = fmt.Errorf("storage.Journal.Close: drain: %w", ctx.Err())
	}
	slog.Debug("storage: journal closed", "written", j.written.Load(), "dropped", j.dropped.Load())
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("storage.Journal.Close: %w", err)
	}
	return drainErr
}

// Prune deletes entries older than before and reports how many went.
// Entries still in the buffer are not affected.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM journal WHERE at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("storage.Journal.Prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Dropped returns how many entries were discarded because the buffer was full.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *Journal) run() {
	defer close(j.done)
	for it := range j.items {
		if it.ack != nil {
			close(it.ack)
			continue
		}
		if err := j.insert(it.entry); err != nil {
			slog.Warn("storage: journal write failed", "kind", it.entry.Kind, "error", err)
			continue
		}
		j.written.Add(1)
	}
}

func (j *Journal) insert(e *ports.JournalEntry) error {
	_, err := j.db.Exec(
		`INSERT INTO journal (session, at, kind, market_id, ref, side, type, price, units, role, performance, info)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Session, e.At.UTC(), string(e.Kind), e.MarketID, e.Ref, e.Side, e.Type,
		e.Price, e.Units, e.Role, e.Performance, e.Info,
	)
	return err
}

// Entries returns the entries of a session in write order.
func (j *Journal) Entries(ctx context.Context, session string) ([]ports.JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session, at, kind, market_id, ref, side, type, price, units, role, performance, info
		FROM journal
		WHERE session = ?
		ORDER BY id`, session)
	if err != nil {
		return nil, fmt.Errorf("storage.Journal.Entries: %w", err)
	}
	defer rows.Close()

	var out []ports.JournalEntry
	for rows.Next() {
		var (
			e    ports.JournalEntry
			at   time.Time
			kind string
		)
		if err := rows.Scan(
			&e.Session, &at, &kind, &e.MarketID, &e.Ref, &e.Side, &e.Type,
			&e.Price, &e.Units, &e.Role, &e.Performance, &e.Info,
		); err != nil {
			return nil, fmt.Errorf("storage.Journal.Entries: scan: %w", err)
		}
		e.At = at
		e.Kind = ports.JournalKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByKind tallies the entries of a session per kind.
func (j *Journal) CountByKind(ctx context.Context, session string) (map[ports.JournalKind]int, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM journal WHERE session = ? GROUP BY kind`, session)
	if err != nil {
		return nil, fmt.Errorf("storage.Journal.CountByKind: %w", err)
	}
	defer rows.Close()

	out := make(map[ports.JournalKind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("storage.Journal.CountByKind: scan: %w", err)
		}
		out[ports.JournalKind(kind)] = n
	}
	return out, rows.Err()
}
