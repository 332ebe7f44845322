package world

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flowcraft.ai/internal/sim/network"
)

// Metrics holds the Prometheus collectors of one or more worlds on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ticks         *prometheus.CounterVec
	tickDuration  *prometheus.HistogramVec
	moved         *prometheus.CounterVec
	networks      *prometheus.GaugeVec
	networkErrors *prometheus.CounterVec
	machineTicks  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowcraft",
				Subsystem: "world",
				Name:      "ticks_total",
				Help:      "Total number of simulated ticks.",
			},
			[]string{"world"},
		),
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flowcraft",
				Subsystem: "world",
				Name:      "tick_duration_seconds",
				Help:      "Wall time of one tick.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
			},
			[]string{"world"},
		),
		moved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowcraft",
				Subsystem: "network",
				Name:      "moved_total",
				Help:      "Resource amount moved by network distribution (approximate, display only).",
			},
			[]string{"world", "type"},
		),
		networks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowcraft",
				Subsystem: "network",
				Name:      "instances",
				Help:      "Current number of network instances.",
			},
			[]string{"world", "type"},
		),
		networkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowcraft",
				Subsystem: "network",
				Name:      "aborted_total",
				Help:      "Distribution passes aborted by arithmetic overflow.",
			},
			[]string{"world", "type"},
		),
		machineTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowcraft",
				Subsystem: "machine",
				Name:      "ticks_total",
				Help:      "Machine ticks by outcome.",
			},
			[]string{"world", "machine", "status"},
		),
	}
	m.registry.MustRegister(m.ticks, m.tickDuration, m.moved, m.networks, m.networkErrors, m.machineTicks)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeTick(world string, reports []network.TickReport, machines []MachineReport, took time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(world).Inc()
	m.tickDuration.WithLabelValues(world).Observe(took.Seconds())

	counts := map[network.Type]int{}
	for _, t := range network.Types {
		counts[t] = 0
	}
	for _, r := range reports {
		counts[r.Type]++
		if r.Err != nil {
			m.networkErrors.WithLabelValues(world, r.Type.String()).Inc()
			continue
		}
		if f := r.Moved.Float64(); f > 0 {
			m.moved.WithLabelValues(world, r.Type.String()).Add(f)
		}
	}
	for t, n := range counts {
		m.networks.WithLabelValues(world, t.String()).Set(float64(n))
	}
	for _, mr := range machines {
		m.machineTicks.WithLabelValues(world, mr.Type, mr.Status).Inc()
	}
}
