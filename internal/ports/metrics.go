package ports

// Metrics receives engine counters and gauges.
type Metrics interface {
	OrderSent(role string)
	OrderRejected(orderType string)
	Reconciled(kind string)
	Resynced(balance string)
	CycleFailed(op string)
	Performance(value float64)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) OrderSent(string) {}
func (NopMetrics) OrderRejected(string) {}
func (NopMetrics) Reconciled(string) {}
func (NopMetrics) Resynced(string) {}
func (NopMetrics) CycleFailed(string) {}
func (NopMetrics) Performance(float64) {}
