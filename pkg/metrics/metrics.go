// Package metrics exposes the orchestrator's Prometheus instrumentation
// on a dedicated registry, keeping scrapes free of default collectors'
// noise except process and Go runtime stats.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Set holds every metric the orchestrator records.
type Set struct {
	registry *prometheus.Registry

	TicksTotal      prometheus.Counter
	TickDuration    prometheus.Histogram
	OrdersSubmitted *prometheus.CounterVec
	OrderRetries    prometheus.Counter
	OrdersAbandoned prometheus.Counter
	VetoesTotal     *prometheus.CounterVec
	SignalsTotal    *prometheus.CounterVec
	SwapsTotal      prometheus.Counter

	Equity        prometheus.Gauge
	UnrealizedPnL prometheus.Gauge
	PositionQty   prometheus.Gauge
	LastPrice     prometheus.Gauge
	RealizedToday prometheus.Gauge
}

// New builds a metric set on a fresh registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Set{
		registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_ticks_total",
			Help: "Engine tick iterations.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_tick_duration_seconds",
			Help:    "Wall time of one engine tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_orders_submitted_total",
			Help: "Orders submitted to the bridge.",
		}, []string{"side", "method"}),
		OrderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_order_retries_total",
			Help: "Order submission retries.",
		}),
		OrdersAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_orders_abandoned_total",
			Help: "Orders abandoned after exhausting retries.",
		}),
		VetoesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_vetoes_total",
			Help: "Entries blocked by the risk pipeline.",
		}, []string{"source"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_signals_total",
			Help: "Strategy signals by direction.",
		}, []string{"direction"}),
		SwapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_strategy_swaps_total",
			Help: "Drawdown-triggered main strategy swaps.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_equity",
			Help: "Account equity reported by the bridge.",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_unrealized_pnl",
			Help: "Unrealized P&L of the active position.",
		}),
		PositionQty: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_position_quantity",
			Help: "Signed quantity of the active position.",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_last_price",
			Help: "Last observed price of the active stock.",
		}),
		RealizedToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_realized_pnl_today",
			Help: "Realized P&L since midnight.",
		}),
	}

	reg.MustRegister(
		s.TicksTotal, s.TickDuration, s.OrdersSubmitted, s.OrderRetries,
		s.OrdersAbandoned, s.VetoesTotal, s.SignalsTotal, s.SwapsTotal,
		s.Equity, s.UnrealizedPnL, s.PositionQty, s.LastPrice, s.RealizedToday,
	)
	return s
}

// Handler returns the scrape endpoint handler.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve runs the scrape endpoint until ctx is cancelled.
func (s *Set) Serve(ctx context.Context, addr string, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
