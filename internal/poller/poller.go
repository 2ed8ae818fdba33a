// Package poller drives the detection data flow described in spec.md §2:
// "a poller queries C6 for a metric window → the detector (C5) scores it →
// C4 attenuates → C8 stamps an anomaly record." This package implements the
// C6→C8 half of that flow — periodic Kubernetes-signal polling through the
// time-series façade, evaluated into typed anomalies. The C5/C4 half (cost
// series → ensemble detector → pattern chain) operates on data from the
// out-of-scope cost-ledger client (spec.md §1) and is exercised directly by
// callers of anomaly.Combiner, not by this poller.
//
// Run loop grounded on octoreflex's internal/gossip.FederatedBaselineManager:
// a ticker-driven Run(ctx), one "round" function per tick, structured logging
// of round results, graceful stop on context cancellation.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dataplatform/admissionctl/internal/domain"
	"github.com/dataplatform/admissionctl/internal/governance"
	"github.com/dataplatform/admissionctl/internal/health"
	"github.com/dataplatform/admissionctl/internal/observability"
	"github.com/dataplatform/admissionctl/internal/timeseries"
)

// Manager runs the periodic health-evaluation poll: query the time-series
// façade for each predicate, evaluate the results into Anomaly records,
// validate invariants, and record metrics.
type Manager struct {
	provider  timeseries.Provider
	evaluator *health.Evaluator
	metrics   *observability.Metrics
	kernel    *governance.Kernel
	log       *zap.Logger

	interval     time.Duration
	namespace    string
	backendLabel string
	cpuThreshold float64
	memThreshold float64
	lastResult   health.DetectionResult
}

// Config holds the fields of config.DetectionConfig this poller needs,
// named independently to avoid an import cycle with internal/config.
type Config struct {
	Interval        time.Duration
	Namespace       string
	CPUThreshold    float64
	MemoryThreshold float64
	// BackendLabel is the "backend" metric label value ("real" or "mock").
	BackendLabel string
}

// NewManager builds a poller Manager. evaluator may be health.NewEvaluator()
// or a caller-tuned instance; kernel may be nil to skip invariant checks.
func NewManager(provider timeseries.Provider, evaluator *health.Evaluator, metrics *observability.Metrics, kernel *governance.Kernel, log *zap.Logger, cfg Config) *Manager {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Manager{
		provider:     provider,
		evaluator:    evaluator,
		metrics:      metrics,
		kernel:       kernel,
		log:          log,
		interval:     interval,
		namespace:    cfg.Namespace,
		backendLabel: cfg.BackendLabel,
		cpuThreshold: cfg.CPUThreshold,
		memThreshold: cfg.MemoryThreshold,
	}
}

// Run blocks, polling every interval until ctx is cancelled. It polls once
// immediately on start so the first /metrics scrape after boot already has
// data.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info("health poller started",
		zap.Duration("interval", m.interval),
		zap.String("namespace", m.namespace))

	m.pollOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("health poller stopped")
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// LastResult returns the most recent DetectionResult without waiting on the
// next tick. Used by tests; production callers observe poll outcomes through
// the HealthAnomaliesTotal metric and structured logs instead, since the RPC
// protocol's status action is scoped to admission state only (spec.md §6).
func (m *Manager) LastResult() health.DetectionResult {
	return m.lastResult
}

// pollOnce performs one round: query every C6 predicate, evaluate, record
// metrics and invariant checks, log a summary. Errors from any single
// predicate are logged and skipped — spec.md §7's BackendUnavailable
// contract: "the pipeline skips this window and logs; never crashes."
func (m *Manager) pollOnce(ctx context.Context) {
	var anomalies []health.Anomaly

	anomalies = append(anomalies, m.query(ctx, "restart_count", func(ctx context.Context) ([]domain.TimeSeriesSample, error) {
		return m.provider.PodRestarts(ctx, m.namespace)
	}, m.evaluator.EvaluateRestarts)...)

	anomalies = append(anomalies, m.query(ctx, "crash_loop", func(ctx context.Context) ([]domain.TimeSeriesSample, error) {
		return m.provider.CrashLoopPods(ctx, m.namespace)
	}, m.evaluator.EvaluateCrashLoop)...)

	anomalies = append(anomalies, m.query(ctx, "oom_killed", func(ctx context.Context) ([]domain.TimeSeriesSample, error) {
		return m.provider.OOMKilledPods(ctx, m.namespace)
	}, m.evaluator.EvaluateOOMKilled)...)

	anomalies = append(anomalies, m.query(ctx, "node_pressure", func(ctx context.Context) ([]domain.TimeSeriesSample, error) {
		return m.provider.NodeConditions(ctx, "")
	}, m.evaluator.EvaluateNodePressure)...)

	anomalies = append(anomalies, m.query(ctx, "resource_usage", func(ctx context.Context) ([]domain.TimeSeriesSample, error) {
		return m.provider.HighCPUPods(ctx, m.namespace, m.cpuThreshold)
	}, func(s []domain.TimeSeriesSample) []health.Anomaly {
		return m.evaluator.EvaluateResourceUsage(s, m.cpuThreshold, "cpu")
	})...)

	anomalies = append(anomalies, m.query(ctx, "resource_usage", func(ctx context.Context) ([]domain.TimeSeriesSample, error) {
		return m.provider.HighMemoryPods(ctx, m.namespace, m.memThreshold)
	}, func(s []domain.TimeSeriesSample) []health.Anomaly {
		return m.evaluator.EvaluateResourceUsage(s, m.memThreshold, "memory")
	})...)

	result := health.Summarize(anomalies)
	m.lastResult = result

	for _, a := range anomalies {
		m.metrics.HealthAnomaliesTotal.WithLabelValues(categoryOf(a), a.Severity.String()).Inc()
	}

	m.log.Info("health poll complete",
		zap.Int("anomalies", len(anomalies)),
		zap.Int("critical", result.CriticalCount),
		zap.Int("high", result.HighCount),
		zap.String("summary", result.Summary))
}

// query runs one predicate, times it, records metrics, and evaluates the
// samples into anomalies. Query errors are logged and treated as an empty
// result rather than propagated (BackendUnavailable, spec.md §7).
func (m *Manager) query(ctx context.Context, category string, fetch func(context.Context) ([]domain.TimeSeriesSample, error), evaluate func([]domain.TimeSeriesSample) []health.Anomaly) []health.Anomaly {
	start := time.Now()
	samples, err := fetch(ctx)
	m.metrics.TimeSeriesQueryLatency.WithLabelValues(m.backendLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		m.metrics.TimeSeriesQueryErrorsTotal.Inc()
		m.log.Warn("time-series query failed, skipping window", zap.String("category", category), zap.Error(err))
		return nil
	}

	anomalies := evaluate(samples)
	if m.kernel != nil {
		for _, a := range anomalies {
			if err := m.kernel.CheckAnomalyRecord(domain.AnomalyRecord{
				Confidence: severityFloor(a.Severity),
				Severity:   a.Severity,
			}, nil); err != nil {
				m.log.Warn("invariant check failed", zap.Error(err))
			}
		}
	}
	return anomalies
}

// categoryOf recovers a stable metric label for a health.Anomaly. The
// evaluator itself only tags AnomalyMetric, so the label is carried via the
// anomaly's Metrics map key set instead of a dedicated field.
func categoryOf(a health.Anomaly) string {
	switch {
	case a.ResourceType == "node":
		return "node_pressure"
	case len(a.Metrics) == 0:
		return "crash_or_oom"
	case hasKey(a.Metrics, "restart_count"):
		return "restart_count"
	case hasKey(a.Metrics, "usage_percent"):
		return "resource_usage"
	default:
		return "unknown"
	}
}

func hasKey(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}

// severityFloor maps a severity back to a representative confidence value
// purely so CheckAnomalyRecord's bounds/purity checks have something to
// validate against for health anomalies, which carry a severity but no
// statistical confidence of their own.
func severityFloor(s domain.Severity) float64 {
	switch s {
	case domain.SeverityCritical:
		return 0.8
	case domain.SeverityHigh:
		return 0.65
	case domain.SeverityMedium:
		return 0.5
	default:
		return 0.0
	}
}
