// Package metrics exposes prometheus collectors for event dispatch and staged
// module loading. A nil *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stagehost"

// Collector groups the counters shared by the dispatcher and the loader.
type Collector struct {
	emits          *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	listenerFaults *prometheus.CounterVec
	listeners      *prometheus.GaugeVec
	loads          *prometheus.CounterVec
	phaseRuns      *prometheus.CounterVec
}

// New creates a Collector and registers it with reg. Passing nil registers
// nothing, which is convenient in tests.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		emits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "emits_total",
			Help:      "Events emitted, by mode (sync or async).",
		}, []string{"mode"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "deliveries_total",
			Help:      "Listener invocations, by mode.",
		}, []string{"mode"}),
		listenerFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "listener_faults_total",
			Help:      "Listener invocations that returned an error or panicked, by mode.",
		}, []string{"mode"}),
		listeners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "listeners",
			Help:      "Registered listeners per event name.",
		}, []string{"event"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "module_loads_total",
			Help:      "Module load attempts that reached the load capability, by phase and outcome.",
		}, []string{"phase", "outcome"}),
		phaseRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "phase_runs_total",
			Help:      "Phase batch runs, by phase.",
		}, []string{"phase"}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.emits, c.deliveries, c.listenerFaults, c.listeners, c.loads, c.phaseRuns} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Emitted records one emit call.
func (c *Collector) Emitted(mode string, delivered, faults int) {
	if c == nil {
		return
	}
	c.emits.WithLabelValues(mode).Inc()
	c.deliveries.WithLabelValues(mode).Add(float64(delivered))
	c.listenerFaults.WithLabelValues(mode).Add(float64(faults))
}

// SetListeners records the current listener count for event.
func (c *Collector) SetListeners(event string, n int) {
	if c == nil {
		return
	}
	if n == 0 {
		c.listeners.DeleteLabelValues(event)
		return
	}
	c.listeners.WithLabelValues(event).Set(float64(n))
}

// ResetListeners drops every listener gauge.
func (c *Collector) ResetListeners() {
	if c == nil {
		return
	}
	c.listeners.Reset()
}

// ModuleLoaded records the outcome of one real module load.
func (c *Collector) ModuleLoaded(phase string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	c.loads.WithLabelValues(phase, outcome).Inc()
}

// PhaseRun records one phase batch.
func (c *Collector) PhaseRun(phase string) {
	if c == nil {
		return
	}
	c.phaseRuns.WithLabelValues(phase).Inc()
}
