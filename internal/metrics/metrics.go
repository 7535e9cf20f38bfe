package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RequestIterations *prometheus.HistogramVec

	// Capability metrics
	CapabilityCallsTotal   *prometheus.CounterVec
	CapabilityCallDuration *prometheus.HistogramVec
	CapabilityErrorsTotal  *prometheus.CounterVec

	// Decision metrics
	PlanParseFailuresTotal prometheus.Counter
	PlanRepairsTotal       *prometheus.CounterVec
	ClarificationsTotal    prometheus.Counter

	// Reasoning backend metrics
	ReasoningCallsTotal   *prometheus.CounterVec
	ReasoningCallDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Memory metrics
	MemoryEpisodesTotal   prometheus.Counter
	MemoryRetrievalsTotal prometheus.Counter

	// Dispatch metrics
	DispatchQueueDepth *prometheus.GaugeVec
	DispatchTasksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Request metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requests_total",
				Help: "Total number of processed requests",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "request_duration_seconds",
				Help:    "Duration of request processing in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RequestIterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "request_iterations",
				Help:    "Reason-act iterations consumed per request",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"route"},
		),

		// Capability metrics
		CapabilityCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capability_calls_total",
				Help: "Total number of capability executions",
			},
			[]string{"capability", "status"},
		),
		CapabilityCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capability_call_duration_seconds",
				Help:    "Duration of capability executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"capability"},
		),
		CapabilityErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capability_errors_total",
				Help: "Total number of capability execution errors",
			},
			[]string{"capability", "error_type"},
		),

		// Decision metrics
		PlanParseFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plan_parse_failures_total",
				Help: "Total number of unparseable planner responses",
			},
		),
		PlanRepairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plan_repairs_total",
				Help: "Total number of repair decisions by strategy",
			},
			[]string{"strategy"},
		),
		ClarificationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clarifications_total",
				Help: "Total number of requests answered with a clarification question",
			},
		),

		// Reasoning backend metrics
		ReasoningCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reasoning_calls_total",
				Help: "Total number of reasoning backend calls",
			},
			[]string{"provider", "status"},
		),
		ReasoningCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reasoning_call_duration_seconds",
				Help:    "Duration of reasoning backend calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		// Session metrics
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of currently active sessions",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_total",
				Help: "Total number of sessions created",
			},
		),

		// Memory metrics
		MemoryEpisodesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memory_episodes_total",
				Help: "Total number of episodes stored in memory",
			},
		),
		MemoryRetrievalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memory_retrievals_total",
				Help: "Total number of memory retrievals",
			},
		),

		// Dispatch metrics
		DispatchQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatch_queue_depth",
				Help: "Tasks waiting in each dispatch lane",
			},
			[]string{"lane"},
		),
		DispatchTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_tasks_total",
				Help: "Total number of dispatched tasks by outcome",
			},
			[]string{"lane", "status"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.RequestsTotal)
	m.registry.MustRegister(m.RequestDuration)
	m.registry.MustRegister(m.RequestIterations)

	m.registry.MustRegister(m.CapabilityCallsTotal)
	m.registry.MustRegister(m.CapabilityCallDuration)
	m.registry.MustRegister(m.CapabilityErrorsTotal)

	m.registry.MustRegister(m.PlanParseFailuresTotal)
	m.registry.MustRegister(m.PlanRepairsTotal)
	m.registry.MustRegister(m.ClarificationsTotal)

	m.registry.MustRegister(m.ReasoningCallsTotal)
	m.registry.MustRegister(m.ReasoningCallDuration)

	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsTotal)

	m.registry.MustRegister(m.MemoryEpisodesTotal)
	m.registry.MustRegister(m.MemoryRetrievalsTotal)

	m.registry.MustRegister(m.DispatchQueueDepth)
	m.registry.MustRegister(m.DispatchTasksTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
