// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements ports.Metrics on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	ordersSent     *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	reconciled     *prometheus.CounterVec
	resyncs        *prometheus.CounterVec
	cycleFailures  *prometheus.CounterVec
	performance    prometheus.Gauge
}

// NewPrometheus registers the engine metrics under namespace.
func NewPrometheus(namespace string) *Prometheus {
	registry := prometheus.NewRegistry()

	m := &Prometheus{
		registry: registry,

		ordersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_sent_total",
			Help:      "Orders and cancels transmitted, by role",
		}, []string{"role"}),

		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Rejections received from the exchange, by order type",
		}, []string{"type"}),

		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_outcomes_total",
			Help:      "Ledger reconciliation outcomes, by kind",
		}, []string{"kind"}),

		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_resyncs_total",
			Help:      "Virtual balances reset to the exchange report",
		}, []string{"balance"}),

		cycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Callbacks that returned an error or panicked, by operation",
		}, []string{"op"}),

		performance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_performance",
			Help:      "Mean-variance performance of the confirmed portfolio",
		}),
	}

	registry.MustRegister(
		m.ordersSent,
		m.ordersRejected,
		m.reconciled,
		m.resyncs,
		m.cycleFailures,
		m.performance,
	)
	return m
}

func (m *Prometheus) OrderSent(role string) { m.ordersSent.WithLabelValues(role).Inc() }
func (m *Prometheus) OrderRejected(orderType string) { m.ordersRejected.WithLabelValues(orderType).Inc() }
func (m *Prometheus) Reconciled(kind string) { m.reconciled.WithLabelValues(kind).Inc() }
func (m *Prometheus) Resynced(balance string) { m.resyncs.WithLabelValues(balance).Inc() }
func (m *Prometheus) CycleFailed(op string) { m.cycleFailures.WithLabelValues(op).Inc() }
func (m *Prometheus) Performance(value float64) { m.performance.Set(value) }

// Registry returns the registry the metrics are registered on.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Prometheus) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics: serving", "addr", addr, "path", "/metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
