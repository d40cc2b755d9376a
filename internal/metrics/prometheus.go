package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all rule manager metrics.
type Registry struct {
	// Rule lifecycle
	RulesActive   *prometheus.GaugeVec
	RuleAdds      *prometheus.CounterVec
	RuleRemovals  *prometheus.CounterVec
	ForeignRules  prometheus.Gauge
	Refreshes     *prometheus.CounterVec
	BackendErrors *prometheus.CounterVec

	// Sweep
	Sweeps        prometheus.Counter
	SweepDuration prometheus.Histogram

	// Control plane
	RPCRequests *prometheus.CounterVec
	RPCLatency  *prometheus.HistogramVec

	// System
	Uptime prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.RulesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_rules_active",
		Help: "Managed rules currently indexed",
	}, []string{"family"})

	r.RuleAdds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_rule_adds_total",
		Help: "Rule add requests by outcome",
	}, []string{"family", "outcome"})

	r.RuleRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_rule_removals_total",
		Help: "Rules removed from the backend",
	}, []string{"reason"})

	r.ForeignRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_foreign_rules",
		Help: "Backend rules seen during the last refresh whose names do not decode",
	})

	r.Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_refresh_total",
		Help: "Index rebuilds from the backend",
	}, []string{"result"})

	r.BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_backend_errors_total",
		Help: "Failed firewall backend operations",
	}, []string{"op"})

	r.Sweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_sweeps_total",
		Help: "Expiry sweeps run",
	})

	r.SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_sweep_duration_seconds",
		Help:    "Time spent in one expiry sweep",
		Buckets: prometheus.DefBuckets,
	})

	r.RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_rpc_requests_total",
		Help: "Control plane requests",
	}, []string{"method", "status"})

	r.RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_rpc_request_duration_seconds",
		Help:    "Control plane request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_uptime_seconds",
		Help: "Daemon uptime",
	})

	return r
}

// RecordAdd records the outcome of one family-layer add.
func (r *Registry) RecordAdd(family, outcome string) {
	r.RuleAdds.WithLabelValues(family, outcome).Inc()
}

// RecordRemovals records n removals for a reason (expired, replaced, ...).
func (r *Registry) RecordRemovals(reason string, n int) {
	if n > 0 {
		r.RuleRemovals.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordBackendError records a failed backend operation.
func (r *Registry) RecordBackendError(op string) {
	r.BackendErrors.WithLabelValues(op).Inc()
}

// RecordRefresh records a refresh and the number of foreign rules seen.
func (r *Registry) RecordRefresh(err error, foreign int) {
	if err != nil {
		r.Refreshes.WithLabelValues("error").Inc()
		return
	}
	r.Refreshes.WithLabelValues("ok").Inc()
	r.ForeignRules.Set(float64(foreign))
}

// RecordSweep records one sweep run.
func (r *Registry) RecordSweep(d time.Duration) {
	r.Sweeps.Inc()
	r.SweepDuration.Observe(d.Seconds())
}

// RecordRPC records a control plane request.
func (r *Registry) RecordRPC(method string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.RPCRequests.WithLabelValues(method, status).Inc()
	r.RPCLatency.WithLabelValues(method).Observe(d.Seconds())
}

// SetActive sets the indexed rule count for a family.
func (r *Registry) SetActive(family string, n int) {
	r.RulesActive.WithLabelValues(family).Set(float64(n))
}
