package market

// SyncResult reports what a balance report did to the virtual projection.
type SyncResult int

const (
	SyncInitial    SyncResult = iota // first report seeded virtual
	SyncInSync                       // virtual already matched
	SyncWaiting                      // disagreement within the delay budget
	SyncResynced                     // disagreement outlasted the budget, virtual reset
	SyncForcedDown                   // virtual claimed more than is owned, reset at once
)

func (r SyncResult) String() string {
	switch r {
	case SyncInitial:
		return "initial"
	case SyncInSync:
		return "in_sync"
	case SyncWaiting:
		return "waiting"
	case SyncResynced:
		return "resynced"
	case SyncForcedDown:
		return "forced_down"
	default:
		return "unknown"
	}
}

// Balance tracks a confirmed amount, the part of it not reserved by open
// orders, and the virtual projection used to validate new orders. It is used
// for units of one security and for cash alike.
type Balance struct {
	Total     int64
	Available int64
	Virtual   int64

	seeded   bool
	lag      int
	maxDelay int
}

// NewBalance returns a balance that tolerates maxDelay consecutive
// disagreeing reports before resetting virtual.
func NewBalance(maxDelay int) *Balance {
	if maxDelay <= 0 {
		maxDelay = 1
	}
	return &Balance{maxDelay: maxDelay}
}

// Sync applies an exchange report.
func (b *Balance) Sync(total, available int64) SyncResult {
	b.Total, b.Available = total, available
	switch {
	case !b.seeded:
		b.seeded = true
		b.reset()
		return SyncInitial
	case b.Virtual == available:
		b.lag = 0
		return SyncInSync
	case b.Virtual > total:
		b.reset()
		return SyncForcedDown
	}
	b.lag++
	if b.lag >= b.maxDelay {
		b.reset()
		return SyncResynced
	}
	return SyncWaiting
}

func (b *Balance) reset() {
	b.Virtual = b.Available
	b.lag = 0
}

// Seeded reports whether the exchange has reported this balance yet.
func (b *Balance) Seeded() bool { return b.seeded }

// Lag returns the number of consecutive disagreeing reports.
func (b *Balance) Lag() int { return b.lag }

// Reserve debits the virtual projection.
func (b *Balance) Reserve(n int64) { b.Virtual -= n }

// Release credits the virtual projection.
func (b *Balance) Release(n int64) { b.Virtual += n }
