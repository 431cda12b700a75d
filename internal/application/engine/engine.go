// Package engine runs the trading session: it feeds exchange events into the
// per-market state and decides which order, if any, to send next.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/ledger"
	"github.com/alejandrodnm/capmbot/internal/market"
	"github.com/alejandrodnm/capmbot/internal/portfolio"
	"github.com/alejandrodnm/capmbot/internal/ports"
	"github.com/google/uuid"
)

const (
	defaultSyncMaxDelay        = 2
	defaultSessionLength       = 20 * time.Minute
	defaultCreepWindow         = 2 * time.Minute
	defaultCreepMinSpreadTicks = 3
	defaultCreepMaxUnits       = 4
)

// Config tunes the engine. Zero values take the defaults, except RiskPenalty
// where zero means risk neutral.
type Config struct {
	RiskPenalty  float64
	SyncMaxDelay int
	MaxDelays    ledger.MaxDelays

	SessionLength       time.Duration
	CreepWindow         time.Duration // final stretch of the session where creep orders are proposed
	CreepMinSpreadTicks int64
	CreepMaxUnits       int64
}

// Deps are the engine's collaborators. Sender is required; the rest default
// to no-ops, the wall clock and a time-seeded random source.
type Deps struct {
	Sender  ports.OrderSender
	Journal ports.Journal
	Metrics ports.Metrics
	Rand    *rand.Rand
	Now     func() time.Time
}

// Engine is the single-threaded trading loop. Its callbacks must be invoked
// sequentially.
type Engine struct {
	cfg     Config
	markets map[int]*market.State
	ids     []int // ascending
	eval    *portfolio.Evaluator
	noteID  int
	hasNote bool
	cash    *market.Balance

	sender  ports.OrderSender
	journal ports.Journal
	metrics ports.Metrics
	rng     *rand.Rand
	now     func() time.Time

	sessionID string
	open      bool
	openedAt  time.Time
}

// New builds the engine for the securities of a session. Inconsistent
// security definitions are fatal.
func New(cfg Config, defs []domain.SecurityDef, deps Deps) (*Engine, error) {
	if deps.Sender == nil {
		return nil, errors.New("engine.New: sender is required")
	}
	if len(defs) == 0 {
		return nil, errors.New("engine.New: no securities")
	}
	cfg = withDefaults(cfg)
	if cfg.RiskPenalty < 0 {
		return nil, fmt.Errorf("engine.New: negative risk penalty %v", cfg.RiskPenalty)
	}
	if deps.Journal == nil {
		deps.Journal = ports.NopJournal{}
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(deps.Now().UnixNano()))
	}

	states := domain.NewStateSpace()
	securities := make([]*domain.Security, 0, len(defs))
	seen := make(map[int]bool, len(defs))
	for _, def := range defs {
		if seen[def.ID] {
			return nil, fmt.Errorf("engine.New: duplicate market %d", def.ID)
		}
		seen[def.ID] = true
		sec, err := domain.NewSecurity(def, states)
		if err != nil {
			return nil, fmt.Errorf("engine.New: %w", err)
		}
		securities = append(securities, sec)
	}
	stats, err := portfolio.NewStatistics(securities)
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		markets:   make(map[int]*market.State, len(securities)),
		ids:       stats.IDs(),
		eval:      portfolio.NewEvaluator(stats, cfg.RiskPenalty),
		cash:      market.NewBalance(cfg.SyncMaxDelay),
		sender:    deps.Sender,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		rng:       deps.Rand,
		now:       deps.Now,
		sessionID: uuid.NewString(),
	}
	mcfg := market.Config{SyncMaxDelay: cfg.SyncMaxDelay, MaxDelays: cfg.MaxDelays}
	for _, sec := range securities {
		e.markets[sec.ID] = market.NewState(sec, deps.Sender, mcfg, deps.Now)
	}
	e.noteID, e.hasNote = stats.ZeroVarianceSecurity()
	e.startSession(deps.Now())

	slog.Info("engine: initialised",
		"markets", len(e.ids),
		"states", states.Count(),
		"risk_penalty", cfg.RiskPenalty,
		"note_market", e.noteID,
		"has_note", e.hasNote,
	)
	return e, nil
}

func withDefaults(cfg Config) Config {
	if cfg.SyncMaxDelay <= 0 {
		cfg.SyncMaxDelay = defaultSyncMaxDelay
	}
	def := ledger.DefaultMaxDelays()
	if cfg.MaxDelays.MarketMaker <= 0 {
		cfg.MaxDelays.MarketMaker = def.MarketMaker
	}
	if cfg.MaxDelays.Reactive <= 0 {
		cfg.MaxDelays.Reactive = def.Reactive
	}
	if cfg.SessionLength <= 0 {
		cfg.SessionLength = defaultSessionLength
	}
	if cfg.CreepWindow <= 0 {
		cfg.CreepWindow = defaultCreepWindow
	}
	if cfg.CreepMinSpreadTicks <= 0 {
		cfg.CreepMinSpreadTicks = defaultCreepMinSpreadTicks
	}
	if cfg.CreepMaxUnits <= 0 {
		cfg.CreepMaxUnits = defaultCreepMaxUnits
	}
	return cfg
}

// startSession resets the session clock. Trades completed before it are
// ignored and the creep window is measured from it.
func (e *Engine) startSession(at time.Time) {
	e.openedAt = at
	for _, st := range e.markets {
		st.SetSessionStart(at)
	}
}

func (e *Engine) creepStartsAt() time.Time {
	return e.openedAt.Add(e.cfg.SessionLength - e.cfg.CreepWindow)
}

// Market returns the state of a market.
func (e *Engine) Market(id int) (*market.State, bool) {
	st, ok := e.markets[id]
	return st, ok
}

// MarketIDs returns the traded market ids in ascending order.
func (e *Engine) MarketIDs() []int {
	return append([]int(nil), e.ids...)
}

// Cash returns a snapshot of the cash balance (cents).
func (e *Engine) Cash() market.Balance {
	return *e.cash
}

// SessionID identifies this engine run in the journal.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Evaluator exposes the performance objective.
func (e *Engine) Evaluator() *portfolio.Evaluator {
	return e.eval
}

func (e *Engine) holdings() map[int]int64 {
	h := make(map[int]int64, len(e.markets))
	for id, st := range e.markets {
		h[id] = st.Units().Total
	}
	return h
}

// Performance evaluates the confirmed cash and holdings.
func (e *Engine) Performance() float64 {
	return e.eval.Performance(e.cash.Total, e.holdings())
}

// PotentialPerformance evaluates the confirmed portfolio as if every order
// executed in full.
func (e *Engine) PotentialPerformance(orders ...domain.Order) float64 {
	return e.eval.Potential(e.cash.Total, e.holdings(), orders...)
}

// IsPortfolioOptimal reports whether no single unit traded at a current best
// price would improve performance.
func (e *Engine) IsPortfolioOptimal() bool {
	baseline := e.Performance()
	for _, id := range e.ids {
		book := e.markets[id].Book()
		if bid, ok := book.BestBid(); ok {
			if e.PotentialPerformance(limit(id, bid, 1, domain.SideSell)) > baseline {
				return false
			}
		}
		if ask, ok := book.BestAsk(); ok {
			if e.PotentialPerformance(limit(id, ask, 1, domain.SideBuy)) > baseline {
				return false
			}
		}
	}
	return true
}

func limit(marketID int, price, units int64, side domain.OrderSide) domain.Order {
	return domain.Order{MarketID: marketID, Price: price, Units: units, Side: side, Type: domain.TypeLimit}
}

// Summary reports the engine's view of every market. Exchange and journal
// counters are left for the caller.
func (e *Engine) Summary() domain.SessionSummary {
	s := domain.SessionSummary{
		SessionID:   e.sessionID,
		GeneratedAt: e.now(),
		Cash:        e.cash.Total,
		VirtualCash: e.cash.Virtual,
		Performance: e.Performance(),
		Optimal:     e.IsPortfolioOptimal(),
	}
	for _, id := range e.ids {
		st := e.markets[id]
		sec := st.Security()
		units := st.Units()
		m := domain.MarketSummary{
			ID:       id,
			Name:     sec.Name,
			Expected: sec.ExpectedReturn(),
			Units:    units.Total,
			Virtual:  units.Virtual,
			Records:  len(st.Ledger().Records()),
		}
		m.BestBid, _ = st.Book().BestBid()
		m.BestAsk, _ = st.Book().BestAsk()
		if cur := st.Ledger().Current(); cur != nil {
			o := cur.Order()
			m.Current = fmt.Sprintf("%s %d@%d %s %s", o.Side, o.Units, o.Price, cur.Role(), cur.Status())
		}
		s.Markets = append(s.Markets, m)
	}
	return s
}
