// Package observability — metrics.go
//
// Prometheus metrics for the admission control and cost-anomaly-detection
// service.
//
// Endpoint: GET /metrics on 127.0.0.1:9095 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: admissionctl_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - src_db_id is a small bounded set of configured source databases.
//   - severity/decision labels use the fixed enum string values.
//   - dag_run_id is NEVER used as a label (unbounded cardinality).
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the service.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Admission control ────────────────────────────────────────────────────

	// AdmissionDecisionsTotal counts CheckAdmission outcomes.
	// Labels: decision (allow, downgrade, wait), src_db_id
	AdmissionDecisionsTotal *prometheus.CounterVec

	// AdmissionDowngradeRatio records granted_parallel/requested_parallel
	// for downgraded admissions.
	AdmissionDowngradeRatio prometheus.Histogram

	// AdmissionWaitSeconds records the estimated wait time handed back
	// to callers denied admission.
	AdmissionWaitSeconds prometheus.Histogram

	// AdmissionCurrentUsage is the current connection usage per source.
	// Labels: src_db_id
	AdmissionCurrentUsage *prometheus.GaugeVec

	// AdmissionActiveRegistrations is the count of running registrations
	// per source.
	// Labels: src_db_id
	AdmissionActiveRegistrations *prometheus.GaugeVec

	// ─── Anomaly detection ────────────────────────────────────────────────────

	// AnomalyEvalsTotal counts Combiner.Detect evaluations.
	AnomalyEvalsTotal prometheus.Counter

	// AnomalyConfidenceHistogram records the distribution of final
	// (attenuated) confidence scores.
	AnomalyConfidenceHistogram prometheus.Histogram

	// AnomalySeverityTotal counts anomalies classified by severity.
	// Labels: severity (critical, high, medium, low)
	AnomalySeverityTotal *prometheus.CounterVec

	// PatternAttenuationTotal records the total pattern-chain adjustment
	// applied to raw confidence, one observation per evaluation.
	PatternAttenuationTotal prometheus.Histogram

	// ─── Health evaluator ─────────────────────────────────────────────────────

	// HealthAnomaliesTotal counts health.Evaluator findings.
	// Labels: type (restart_count, crash_or_oom, node_pressure,
	// resource_usage, unknown), severity
	HealthAnomaliesTotal *prometheus.CounterVec

	// ─── Injector ─────────────────────────────────────────────────────────────

	// InjectorScenariosTotal counts injector.Injector Inject<Scenario> calls.
	// Labels: scenario
	InjectorScenariosTotal *prometheus.CounterVec

	// InjectorClearedTotal counts metrics removed by ClearMetrics.
	InjectorClearedTotal prometheus.Counter

	// ─── Timeseries ───────────────────────────────────────────────────────────

	// TimeSeriesQueryLatency records query-façade round-trip latency.
	// Labels: backend (real, mock)
	TimeSeriesQueryLatency *prometheus.HistogramVec

	// TimeSeriesQueryErrorsTotal counts provider query failures.
	TimeSeriesQueryErrorsTotal prometheus.Counter

	// ─── Registry storage ─────────────────────────────────────────────────────

	// StorageWriteLatency records registry.Store write-transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageRegistrations is the current number of registrations on disk.
	StorageRegistrations prometheus.Gauge

	// ─── Service ──────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the service started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all service Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		AdmissionDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admissionctl",
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Total admission decisions, by decision kind and source database.",
		}, []string{"decision", "src_db_id"}),

		AdmissionDowngradeRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "admissionctl",
			Subsystem: "admission",
			Name:      "downgrade_ratio",
			Help:      "Ratio of granted_parallel to requested_parallel for downgraded admissions.",
			Buckets:   []float64{0.1, 0.25, 0.4, 0.5, 0.6, 0.75, 0.9, 1.0},
		}),

		AdmissionWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "admissionctl",
			Subsystem: "admission",
			Name:      "wait_seconds",
			Help:      "Estimated wait time returned to callers denied admission.",
			Buckets:   []float64{15, 30, 60, 90, 120, 180, 240, 300},
		}),

		AdmissionCurrentUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "admissionctl",
			Subsystem: "admission",
			Name:      "current_usage",
			Help:      "Current connection usage per source database.",
		}, []string{"src_db_id"}),

		AdmissionActiveRegistrations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "admissionctl",
			Subsystem: "admission",
			Name:      "active_registrations",
			Help:      "Count of running batch registrations per source database.",
		}, []string{"src_db_id"}),

		AnomalyEvalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "admissionctl",
			Subsystem: "anomaly",
			Name:      "evals_total",
			Help:      "Total cost-anomaly-detection evaluations performed.",
		}),

		AnomalyConfidenceHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "admissionctl",
			Subsystem: "anomaly",
			Name:      "confidence",
			Help:      "Distribution of final (pattern-attenuated) anomaly confidence scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.65, 0.7, 0.8, 0.9, 1.0},
		}),

		AnomalySeverityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admissionctl",
			Subsystem: "anomaly",
			Name:      "severity_total",
			Help:      "Total anomalies classified, by severity level.",
		}, []string{"severity"}),

		PatternAttenuationTotal: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "admissionctl",
			Subsystem: "pattern",
			Name:      "attenuation",
			Help:      "Total pattern-chain confidence adjustment applied per evaluation.",
			Buckets:   []float64{-0.40, -0.30, -0.20, -0.10, -0.05, 0},
		}),

		HealthAnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admissionctl",
			Subsystem: "health",
			Name:      "anomalies_total",
			Help:      "Total Kubernetes-level health anomalies, by type and severity.",
		}, []string{"type", "severity"}),

		InjectorScenariosTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admissionctl",
			Subsystem: "injector",
			Name:      "scenarios_total",
			Help:      "Total synthetic-anomaly scenarios pushed to the pushgateway, by scenario.",
		}, []string{"scenario"}),

		InjectorClearedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "admissionctl",
			Subsystem: "injector",
			Name:      "cleared_total",
			Help:      "Total injected metric groups removed via ClearMetrics.",
		}),

		TimeSeriesQueryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "admissionctl",
			Subsystem: "timeseries",
			Name:      "query_latency_seconds",
			Help:      "Query façade round-trip latency in seconds, by backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		TimeSeriesQueryErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "admissionctl",
			Subsystem: "timeseries",
			Name:      "query_errors_total",
			Help:      "Total query façade failures.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "admissionctl",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "Registry store write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageRegistrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "admissionctl",
			Subsystem: "storage",
			Name:      "registrations",
			Help:      "Current number of batch registrations persisted.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "admissionctl",
			Subsystem: "service",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the service started.",
		}),
	}

	reg.MustRegister(
		m.AdmissionDecisionsTotal,
		m.AdmissionDowngradeRatio,
		m.AdmissionWaitSeconds,
		m.AdmissionCurrentUsage,
		m.AdmissionActiveRegistrations,
		m.AnomalyEvalsTotal,
		m.AnomalyConfidenceHistogram,
		m.AnomalySeverityTotal,
		m.PatternAttenuationTotal,
		m.HealthAnomaliesTotal,
		m.InjectorScenariosTotal,
		m.InjectorClearedTotal,
		m.TimeSeriesQueryLatency,
		m.TimeSeriesQueryErrorsTotal,
		m.StorageWriteLatency,
		m.StorageRegistrations,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
// The server binds to addr (e.g., "127.0.0.1:9095") and serves GET /metrics.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
