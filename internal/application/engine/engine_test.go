package engine_test

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/capmbot/internal/application/engine"
	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/alejandrodnm/capmbot/internal/market"
	"github.com/alejandrodnm/capmbot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── mocks ──────────────────────────────────────────────────────────────────

type mockSender struct {
	sent  []domain.Order
	panic bool
}

func (m *mockSender) Send(o domain.Order) error {
	if m.panic {
		panic("connection lost")
	}
	m.sent = append(m.sent, o)
	return nil
}

func (m *mockSender) last(t *testing.T) domain.Order {
	t.Helper()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

type mockMetrics struct {
	ports.NopMetrics
	failed []string
	sent   []string
}

func (m *mockMetrics) CycleFailed(op string) { m.failed = append(m.failed, op) }
func (m *mockMetrics) OrderSent(role string) { m.sent = append(m.sent, role) }

type mockJournal struct {
	entries []ports.JournalEntry
}

func (m *mockJournal) Record(e ports.JournalEntry) { m.entries = append(m.entries, e) }
func (m *mockJournal) Close(context.Context) error { return nil }

func (m *mockJournal) kinds() []ports.JournalKind {
	var out []ports.JournalKind
	for _, e := range m.entries {
		out = append(out, e.Kind)
	}
	return out
}

// ── helpers ────────────────────────────────────────────────────────────────

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	eng     *engine.Engine
	sender  *mockSender
	metrics *mockMetrics
	journal *mockJournal
	now     time.Time
}

func security(id int, payoffs string) domain.SecurityDef {
	return domain.SecurityDef{ID: id, Name: "s", Item: "item", Description: payoffs, Minimum: 0, Maximum: 200, Tick: 1}
}

func newHarness(t *testing.T, riskPenalty float64, defs ...domain.SecurityDef) *harness {
	t.Helper()
	h := &harness{sender: &mockSender{}, metrics: &mockMetrics{}, journal: &mockJournal{}, now: t0}
	eng, err := engine.New(engine.Config{RiskPenalty: riskPenalty}, defs, engine.Deps{
		Sender:  h.sender,
		Metrics: h.metrics,
		Journal: h.journal,
		Rand:    rand.New(rand.NewSource(7)),
		Now:     func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.eng = eng
	return h
}

func (h *harness) holdings(cash int64, units map[int]int64) {
	m := make(map[int]domain.UnitHoldings, len(units))
	for id, u := range units {
		m[id] = domain.UnitHoldings{Units: u, Available: u}
	}
	h.eng.OnHoldings(domain.Holdings{Cash: cash, AvailableCash: cash, Markets: m})
}

func bid(price, units int64) domain.Order {
	return domain.Order{Price: price, Units: units, Side: domain.SideBuy, Type: domain.TypeLimit}
}

func ask(price, units int64) domain.Order {
	return domain.Order{Price: price, Units: units, Side: domain.SideSell, Type: domain.TypeLimit}
}

// ── construction ───────────────────────────────────────────────────────────

func TestNew_StateCountMismatchIsFatal(t *testing.T) {
	_, err := engine.New(engine.Config{}, []domain.SecurityDef{
		security(1, "0,100"),
		security(2, "0,50,100"),
	}, engine.Deps{Sender: &mockSender{}})
	assert.ErrorIs(t, err, domain.ErrStateCountMismatch)
}

func TestNew_RejectsDuplicatesAndMissingSender(t *testing.T) {
	_, err := engine.New(engine.Config{}, []domain.SecurityDef{security(1, "0,100"), security(1, "0,100")}, engine.Deps{Sender: &mockSender{}})
	assert.Error(t, err)

	_, err = engine.New(engine.Config{}, []domain.SecurityDef{security(1, "0,100")}, engine.Deps{})
	assert.Error(t, err)
}

// ── performance ────────────────────────────────────────────────────────────

func TestPotentialPerformance_SellAboveExpectedReturn(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(0, map[int]int64{1: 0})

	assert.InDelta(t, 0.0, h.eng.Performance(), 1e-12)
	sell := domain.Order{MarketID: 1, Price: 60, Units: 1, Side: domain.SideSell, Type: domain.TypeLimit}
	assert.Greater(t, h.eng.PotentialPerformance(sell), h.eng.Performance())
}

func TestIsPortfolioOptimal(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(0, map[int]int64{1: 0})
	assert.True(t, h.eng.IsPortfolioOptimal())

	// a bid of 60 for a security worth 50 is worth hitting
	h.sender.panic = true // keep the book update from trading
	h.eng.OnOrderBook(1, []domain.Order{bid(60, 1)})
	assert.False(t, h.eng.IsPortfolioOptimal())
}

// ── decisions ──────────────────────────────────────────────────────────────

func TestOnOrderBook_SendsReactiveSell(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(0, map[int]int64{1: 1})

	h.eng.OnOrderBook(1, []domain.Order{bid(60, 1)})

	require.Len(t, h.sender.sent, 1)
	o := h.sender.last(t)
	assert.Equal(t, domain.SideSell, o.Side)
	assert.Equal(t, int64(60), o.Price)
	assert.Equal(t, int64(1), o.Units)
	assert.True(t, strings.HasSuffix(o.Ref, "-RE"))
	assert.Equal(t, int64(0), mustMarket(t, h, 1).Units().Virtual)
}

func TestOnOrderBook_ReactiveTakesWholeLevel(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})

	// two resting asks at 30; risk neutral, so buying both beats buying one
	h.eng.OnOrderBook(1, []domain.Order{ask(30, 1), ask(30, 1), ask(40, 5)})

	o := h.sender.last(t)
	assert.Equal(t, domain.SideBuy, o.Side)
	assert.Equal(t, int64(30), o.Price)
	assert.Equal(t, int64(2), o.Units)
	assert.Equal(t, int64(940), h.eng.Cash().Virtual)
}

func TestOnOrderBook_RiskPenaltyLimitsSize(t *testing.T) {
	h := newHarness(t, 1, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})

	// gain 0.4 per unit against a 0.25·u² penalty: one unit is best
	h.eng.OnOrderBook(1, []domain.Order{ask(10, 3)})

	o := h.sender.last(t)
	assert.Equal(t, int64(1), o.Units)
}

func TestOnOrderBook_BusyMarketIsSkipped(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})

	h.eng.OnOrderBook(1, []domain.Order{ask(30, 1)})
	require.Len(t, h.sender.sent, 1)

	h.eng.OnOrderBook(1, []domain.Order{ask(30, 1)})
	assert.Len(t, h.sender.sent, 1, "no second order while the first awaits its ack")
}

func TestOnOrderBook_MarketMakerQuotesInsideSpread(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})

	h.eng.OnOrderBook(1, []domain.Order{bid(40, 1), ask(60, 1)})

	require.Len(t, h.sender.sent, 1)
	o := h.sender.last(t)
	assert.Equal(t, domain.SideBuy, o.Side)
	assert.Greater(t, o.Price, int64(40))
	assert.Less(t, o.Price, int64(50))
	assert.Equal(t, int64(1), o.Units)
	assert.True(t, strings.HasSuffix(o.Ref, "-MM"))
}

func TestOnOrderBook_CreepInFinalWindow(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})
	h.now = t0.Add(19 * time.Minute)

	h.eng.OnOrderBook(1, []domain.Order{bid(40, 1), ask(60, 1)})

	o := h.sender.last(t)
	assert.Equal(t, domain.SideBuy, o.Side)
	assert.Equal(t, int64(41), o.Price)
	assert.Equal(t, int64(4), o.Units)
}

func TestOnOrderBook_NoCreepOnNarrowSpread(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})
	h.now = t0.Add(19 * time.Minute)

	h.eng.OnOrderBook(1, []domain.Order{bid(47, 1), ask(50, 1)})

	o := h.sender.last(t)
	assert.Equal(t, int64(1), o.Units)
}

func TestOnOrderBook_CandidatesNeedCash(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(20, map[int]int64{1: 0})

	h.eng.OnOrderBook(1, []domain.Order{ask(30, 1)})
	for _, o := range h.sender.sent {
		assert.LessOrEqual(t, o.Value(), int64(20))
	}
}

// ── zero-variance security ─────────────────────────────────────────────────

func TestNote_SellsAtExpectedReturn(t *testing.T) {
	h := newHarness(t, 0.01, security(1, "50,50"), security(2, "0,100"))
	h.holdings(0, map[int]int64{1: 2, 2: 0})

	h.eng.OnOrderBook(1, []domain.Order{bid(50, 1)})

	o := h.sender.last(t)
	assert.Equal(t, 1, o.MarketID)
	assert.Equal(t, domain.SideSell, o.Side)
	assert.Equal(t, int64(50), o.Price)
	assert.True(t, strings.HasSuffix(o.Ref, "-RE"))
}

func TestNote_FundsPurchaseElsewhere(t *testing.T) {
	h := newHarness(t, 0, security(1, "50,50"), security(2, "0,100"))
	h.holdings(0, map[int]int64{1: 2, 2: 0})

	h.sender.panic = true
	h.eng.OnOrderBook(2, []domain.Order{ask(30, 1)})
	h.sender.panic = false

	h.eng.OnOrderBook(1, []domain.Order{bid(45, 1)})

	require.Len(t, h.sender.sent, 2)
	assert.Equal(t, domain.SideSell, h.sender.sent[0].Side)
	assert.Equal(t, 1, h.sender.sent[0].MarketID)
	assert.Equal(t, domain.SideBuy, h.sender.sent[1].Side)
	assert.Equal(t, 2, h.sender.sent[1].MarketID)
	assert.Equal(t, int64(30), h.sender.sent[1].Price)
}

func TestNote_QuotesPayoffWhenIdle(t *testing.T) {
	h := newHarness(t, 0.01, security(1, "50,50"), security(2, "0,100"))
	h.holdings(0, map[int]int64{1: 1, 2: 0})

	h.eng.OnOrderBook(1, nil)

	o := h.sender.last(t)
	assert.Equal(t, int64(50), o.Price)
	assert.Equal(t, domain.SideSell, o.Side)
	assert.True(t, strings.HasSuffix(o.Ref, "-MM"))
}

// ── reconciliation ─────────────────────────────────────────────────────────

func TestOnOrderRejected_BuyRestoresCash(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})
	h.eng.OnOrderBook(1, []domain.Order{ask(30, 1)})
	sent := h.sender.last(t)
	require.Equal(t, int64(970), h.eng.Cash().Virtual)

	h.eng.OnOrderRejected("insufficient", sent)

	assert.Equal(t, int64(1000), h.eng.Cash().Virtual)
	st := mustMarket(t, h, 1)
	assert.Nil(t, st.Ledger().Current())
}

func TestOnOrderRejected_SellRestoresUnits(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(0, map[int]int64{1: 3})
	h.eng.OnOrderBook(1, []domain.Order{bid(60, 1)})
	sent := h.sender.last(t)
	require.Equal(t, int64(2), mustMarket(t, h, 1).Units().Virtual)

	h.eng.OnOrderRejected("no", sent)
	assert.Equal(t, int64(3), mustMarket(t, h, 1).Units().Virtual)
}

func TestStaleReactiveBuyCancelReleasesCash(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})
	h.eng.OnOrderBook(1, []domain.Order{ask(30, 1)})
	sent := h.sender.last(t)
	ack := sent
	ack.ID = "e-1"
	h.eng.OnOrderAccepted(ack)

	// the ask vanished and our bid is resting: cancel it
	resting := ack
	resting.Mine = true
	h.eng.OnOrderBook(1, []domain.Order{resting})

	cancel := h.sender.sent[1]
	assert.Equal(t, domain.TypeCancel, cancel.Type)
	want := int64(1000)
	if len(h.sender.sent) > 2 {
		// the freed market may quote again in the same cycle
		want -= h.sender.sent[2].Value()
	}
	assert.Equal(t, want, h.eng.Cash().Virtual)

	h.eng.OnOrderAccepted(cancel)
	assert.Nil(t, mustMarket(t, h, 1).Ledger().Get(sent))
}

func TestOnHoldings_ResyncsCashAfterDelay(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})

	h.holdings(800, map[int]int64{1: 0})
	assert.Equal(t, int64(800), h.eng.Cash().Virtual, "virtual above confirmed cash is forced down")

	h.eng.OnHoldings(domain.Holdings{Cash: 800, AvailableCash: 900})
	assert.Equal(t, int64(800), h.eng.Cash().Virtual)
	h.eng.OnHoldings(domain.Holdings{Cash: 800, AvailableCash: 900})
	assert.Equal(t, int64(900), h.eng.Cash().Virtual)
}

func TestOnCompletedOrders_FullFillClearsMarket(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})
	h.eng.OnOrderBook(1, []domain.Order{ask(30, 1)})
	sent := h.sender.last(t)

	fill := sent
	fill.Ref = ""
	fill.Date = t0.Add(time.Second)
	h.eng.OnCompletedOrders(1, []domain.Order{fill})

	assert.Empty(t, mustMarket(t, h, 1).Ledger().Records())
}

// ── failure isolation ──────────────────────────────────────────────────────

func TestGuard_RecoversPanicsAndContinues(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(0, map[int]int64{1: 1})
	h.sender.panic = true

	assert.NotPanics(t, func() {
		h.eng.OnOrderBook(1, []domain.Order{bid(60, 1)})
	})
	assert.Equal(t, []string{"order_book"}, h.metrics.failed)

	h.sender.panic = false
	h.eng.OnOrderBook(1, []domain.Order{bid(60, 1)})
	assert.Len(t, h.sender.sent, 1, "the engine keeps trading after a failed cycle")
}

func TestGuard_UnknownMarket(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.eng.OnOrderBook(99, nil)
	h.eng.OnOrderAccepted(domain.Order{MarketID: 42, Side: domain.SideBuy, Type: domain.TypeLimit})
	assert.Equal(t, []string{"order_book", "order_accepted"}, h.metrics.failed)
}

func TestOnMarketplaceInfo_RestartsCreepClock(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(1000, map[int]int64{1: 0})

	h.now = t0.Add(19 * time.Minute)
	h.eng.OnMarketplaceInfo(true, "s-1")

	h.eng.OnOrderBook(1, []domain.Order{bid(40, 1), ask(60, 1)})
	assert.Equal(t, int64(1), h.sender.last(t).Units, "creep window counts from the opening")
}

func TestJournal_RecordsDecisionsAndSends(t *testing.T) {
	h := newHarness(t, 0, security(1, "0,100"))
	h.holdings(0, map[int]int64{1: 1})

	h.eng.OnOrderBook(1, []domain.Order{bid(60, 1)})
	sent := h.sender.last(t)
	h.eng.OnOrderRejected("closed", sent)

	assert.Equal(t, []ports.JournalKind{ports.JournalDecision, ports.JournalSent, ports.JournalRejected}, h.journal.kinds())
	for _, e := range h.journal.entries {
		assert.Equal(t, h.eng.SessionID(), e.Session)
	}
	assert.Equal(t, "closed", h.journal.entries[2].Info)
	assert.Equal(t, []string{"RE"}, h.metrics.sent)
}

func mustMarket(t *testing.T, h *harness, id int) *market.State {
	t.Helper()
	st, ok := h.eng.Market(id)
	require.True(t, ok)
	return st
}
