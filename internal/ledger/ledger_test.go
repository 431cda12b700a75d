package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/capmbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── mocks ──────────────────────────────────────────────────────────────────

type mockSender struct {
	sent []domain.Order
	err  error
}

func (m *mockSender) Send(o domain.Order) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, o)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
}

func newTestLedger(t *testing.T) (*Ledger, *mockSender) {
	t.Helper()
	s := &mockSender{}
	return New(7, s, DefaultMaxDelays(), fixedClock), s
}

// sendAndAccept walks a fresh order to Accepted the way the exchange would.
func sendAndAccept(t *testing.T, l *Ledger, price, units int64, side domain.OrderSide, role domain.OrderRole) *Record {
	t.Helper()
	r := l.Add(price, units, side, role)
	sent, err := l.SendCurrent()
	require.NoError(t, err)
	ack := sent
	ack.ID = "ex-" + sent.Ref[len(sent.Ref)-12:]
	out := l.Accept(ack)
	require.Equal(t, ActionAccepted, out.Action)
	return r
}

// ── Record ─────────────────────────────────────────────────────────────────

func TestRecord_MarketMakerDelayBoundary(t *testing.T) {
	l, _ := newTestLedger(t)
	r := sendAndAccept(t, l, 50, 1, domain.SideBuy, domain.RoleMarketMaker)

	for i := 1; i < DefaultMaxDelays().MarketMaker; i++ {
		assert.False(t, r.delayed(), "snapshot %d should not cancel", i)
	}
	assert.True(t, r.delayed(), "snapshot %d should cancel", DefaultMaxDelays().MarketMaker)
}

func TestRecord_ReactiveCancelsAfterOneSnapshot(t *testing.T) {
	l, _ := newTestLedger(t)
	r := sendAndAccept(t, l, 50, 1, domain.SideBuy, domain.RoleReactive)
	assert.True(t, r.delayed())
}

func TestRecord_ReactivePartialFillIsExhausted(t *testing.T) {
	s := &mockSender{}
	l := New(7, s, MaxDelays{MarketMaker: 5, Reactive: 3}, fixedClock)
	r := sendAndAccept(t, l, 40, 3, domain.SideSell, domain.RoleReactive)

	assert.True(t, r.partialTraded(domain.Order{Price: 40, Units: 1, Side: domain.SideSell, Type: domain.TypeLimit}))
	assert.Equal(t, int64(2), r.Order().Units)
	assert.True(t, r.delayed(), "reactive record must be cancellable right after a partial fill")
}

func TestRecord_MarketMakerPartialFillResetsDelay(t *testing.T) {
	l, _ := newTestLedger(t)
	r := sendAndAccept(t, l, 40, 3, domain.SideSell, domain.RoleMarketMaker)
	r.delayed()
	r.delayed()

	assert.False(t, r.partialTraded(domain.Order{Price: 40, Units: 1, Side: domain.SideSell, Type: domain.TypeLimit}))
	assert.Equal(t, int64(2), r.Order().Units)
	assert.Equal(t, 0, r.Delay())
}

func TestRecord_CancelOnlyFromAccepted(t *testing.T) {
	l, s := newTestLedger(t)
	r := l.Add(50, 1, domain.SideBuy, domain.RoleReactive)

	sent, err := r.cancel()
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, s.sent)
}

// ── Ledger ─────────────────────────────────────────────────────────────────

func TestLedger_AddDropsUnsentCurrent(t *testing.T) {
	l, _ := newTestLedger(t)
	first := l.Add(50, 1, domain.SideBuy, domain.RoleReactive)
	second := l.Add(55, 1, domain.SideBuy, domain.RoleReactive)

	assert.Same(t, second, l.Current())
	assert.Len(t, l.Records(), 1)
	assert.Nil(t, l.Get(first.Order()))
}

func TestLedger_AddKeepsSentCurrent(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Add(50, 1, domain.SideBuy, domain.RoleReactive)
	_, err := l.SendCurrent()
	require.NoError(t, err)
	l.Add(55, 1, domain.SideBuy, domain.RoleReactive)

	assert.Len(t, l.Records(), 2)
}

func TestLedger_SendFailureKeepsMade(t *testing.T) {
	s := &mockSender{err: errors.New("throttled")}
	l := New(7, s, DefaultMaxDelays(), fixedClock)
	r := l.Add(50, 1, domain.SideBuy, domain.RoleReactive)

	_, err := l.SendCurrent()
	require.Error(t, err)
	assert.Equal(t, domain.StatusMade, r.Status())
}

func TestLedger_SendCurrentWithoutOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.SendCurrent()
	assert.ErrorIs(t, err, ErrNoCurrentOrder)
}

func TestLedger_ReconcileOrderBook_SynthesizesFromRef(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want domain.OrderRole
	}{
		{"market maker suffix", ":2026-03-01 09:59:00-abcd1234-50-1-L-B-7-MM", domain.RoleMarketMaker},
		{"reactive suffix", ":2026-03-01 09:59:00-abcd1234-50-1-L-B-7-RE", domain.RoleReactive},
		{"no ref", "", domain.RoleReactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(t)
			o := domain.Order{ID: "x1", Ref: tt.ref, MarketID: 7, Price: 50, Units: 1, Side: domain.SideBuy, Type: domain.TypeLimit, Mine: true}

			outs := l.ReconcileOrderBook([]domain.Order{o})
			require.Len(t, outs, 1)
			assert.Equal(t, Synthesized, outs[0].Kind)
			assert.Equal(t, tt.want, outs[0].Role)

			r := l.Get(o)
			require.NotNil(t, r)
			assert.Equal(t, domain.StatusAccepted, r.Status())
		})
	}
}

func TestLedger_ReconcileOrderBook_CancelsStaleReactive(t *testing.T) {
	l, s := newTestLedger(t)
	r := sendAndAccept(t, l, 45, 2, domain.SideSell, domain.RoleReactive)

	outs := l.ReconcileOrderBook([]domain.Order{r.Order()})
	require.Len(t, outs, 1)
	assert.Equal(t, ActionCancelSent, outs[0].Action)
	assert.Equal(t, int64(2), outs[0].Order.Units)

	last := s.sent[len(s.sent)-1]
	assert.Equal(t, domain.TypeCancel, last.Type)
	assert.True(t, r.Cancelling())

	// no second cancel while the first is in flight
	outs = l.ReconcileOrderBook([]domain.Order{r.Order()})
	assert.Empty(t, outs)
	assert.Equal(t, last, s.sent[len(s.sent)-1])
}

func TestLedger_ReconcileOrderBook_PendingBecomesAccepted(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Add(50, 1, domain.SideBuy, domain.RoleMarketMaker)
	sent, err := l.SendCurrent()
	require.NoError(t, err)

	seen := sent
	seen.ID = "late"
	outs := l.ReconcileOrderBook([]domain.Order{seen})
	require.Len(t, outs, 1)
	assert.Equal(t, Matched, outs[0].Kind)
	assert.Equal(t, ActionAccepted, outs[0].Action)
	assert.Equal(t, "late", l.Current().Order().ID)
}

func TestLedger_RejectedCancel_OrderGoneFromBook(t *testing.T) {
	l, _ := newTestLedger(t)
	r := sendAndAccept(t, l, 45, 1, domain.SideSell, domain.RoleReactive)

	out, err := l.Cancel(r.Order())
	require.NoError(t, err)
	require.Equal(t, ActionCancelSent, out.Action)

	cancel := *r.cancelOrder
	rej := l.Reject(cancel, "order already traded")
	assert.Equal(t, ActionReverted, rej.Action)
	assert.Equal(t, domain.StatusAccepted, r.Status())
	assert.True(t, r.NeedsConfirmation())
	assert.False(t, r.Cancelling())

	outs := l.ReconcileOrderBook(nil)
	require.Len(t, outs, 1)
	assert.Equal(t, ActionRemoved, outs[0].Action)
	assert.Empty(t, l.Records())
}

func TestLedger_RejectedCancel_OrderStillResting(t *testing.T) {
	l, s := newTestLedger(t)
	r := sendAndAccept(t, l, 45, 1, domain.SideSell, domain.RoleReactive)

	_, err := l.Cancel(r.Order())
	require.NoError(t, err)
	l.Reject(*r.cancelOrder, "busy")

	outs := l.ReconcileOrderBook([]domain.Order{r.Order()})
	assert.False(t, r.NeedsConfirmation())
	require.Len(t, outs, 1)
	assert.Equal(t, ActionCancelSent, outs[0].Action, "a confirmed order can be cancelled again")
	assert.Equal(t, domain.TypeCancel, s.sent[len(s.sent)-1].Type)
}

func TestLedger_ReconcileCompleted(t *testing.T) {
	trade := func(price, units int64) domain.Order {
		return domain.Order{Price: price, Units: units, Side: domain.SideBuy, Type: domain.TypeLimit, Mine: true, Date: fixedClock().Add(time.Second)}
	}

	t.Run("full fill removes", func(t *testing.T) {
		l, _ := newTestLedger(t)
		sendAndAccept(t, l, 50, 2, domain.SideBuy, domain.RoleMarketMaker)

		outs := l.ReconcileCompleted([]domain.Order{trade(50, 2)})
		require.Len(t, outs, 1)
		assert.Equal(t, ActionRemoved, outs[0].Action)
		assert.Empty(t, l.Records())
	})

	t.Run("market maker partial fill keeps the rest", func(t *testing.T) {
		l, s := newTestLedger(t)
		r := sendAndAccept(t, l, 50, 3, domain.SideBuy, domain.RoleMarketMaker)
		before := len(s.sent)

		outs := l.ReconcileCompleted([]domain.Order{trade(50, 1)})
		require.Len(t, outs, 1)
		assert.Equal(t, ActionPartialFill, outs[0].Action)
		assert.Equal(t, int64(2), r.Order().Units)
		assert.Len(t, s.sent, before)
	})

	t.Run("reactive partial fill cancels the rest", func(t *testing.T) {
		l, _ := newTestLedger(t)
		sendAndAccept(t, l, 50, 3, domain.SideBuy, domain.RoleReactive)

		outs := l.ReconcileCompleted([]domain.Order{trade(50, 1)})
		require.Len(t, outs, 2)
		assert.Equal(t, ActionPartialFill, outs[0].Action)
		assert.Equal(t, ActionCancelSent, outs[1].Action)
		assert.Equal(t, int64(2), outs[1].Order.Units)
	})

	t.Run("unrelated trade ignored", func(t *testing.T) {
		l, _ := newTestLedger(t)
		sendAndAccept(t, l, 50, 1, domain.SideBuy, domain.RoleReactive)

		outs := l.ReconcileCompleted([]domain.Order{trade(70, 1)})
		require.Len(t, outs, 1)
		assert.Equal(t, Ignored, outs[0].Kind)
		assert.Len(t, l.Records(), 1)
	})
}

func TestLedger_Accept(t *testing.T) {
	t.Run("unmatched cancel ack ignored", func(t *testing.T) {
		l, _ := newTestLedger(t)
		out := l.Accept(domain.Order{ID: "nope", Price: 50, Units: 1, Side: domain.SideBuy, Type: domain.TypeCancel})
		assert.Equal(t, Ignored, out.Kind)
		assert.Empty(t, l.Records())
	})

	t.Run("unmatched limit ack adopted", func(t *testing.T) {
		l, _ := newTestLedger(t)
		o := domain.Order{ID: "x9", Ref: ":t-n-50-1-L-B-7-MM", Price: 50, Units: 1, Side: domain.SideBuy, Type: domain.TypeLimit}
		out := l.Accept(o)
		assert.Equal(t, Synthesized, out.Kind)
		assert.Equal(t, domain.RoleMarketMaker, out.Role)
		assert.NotNil(t, l.Get(o))
	})

	t.Run("cancel ack removes record", func(t *testing.T) {
		l, _ := newTestLedger(t)
		r := sendAndAccept(t, l, 50, 1, domain.SideBuy, domain.RoleReactive)
		_, err := l.Cancel(r.Order())
		require.NoError(t, err)

		out := l.Accept(*r.cancelOrder)
		assert.Equal(t, ActionRemoved, out.Action)
		assert.Empty(t, l.Records())
	})
}

func TestLedger_RejectLimitRemoves(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Add(50, 1, domain.SideBuy, domain.RoleReactive)
	sent, err := l.SendCurrent()
	require.NoError(t, err)

	out := l.Reject(sent, "insufficient cash")
	assert.Equal(t, ActionRemoved, out.Action)
	assert.Nil(t, l.Current())
	assert.Empty(t, l.Records())

	assert.Equal(t, Ignored, l.Reject(sent, "again").Kind)
}

func TestLedger_CancelUnknown(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Cancel(domain.Order{Ref: "missing", Side: domain.SideBuy, Type: domain.TypeLimit})
	assert.ErrorIs(t, err, ErrUnknownOrder)
}
