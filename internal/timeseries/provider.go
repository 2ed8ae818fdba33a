// Package timeseries is the query façade (spec.md §4.6): a small set of
// domain-level predicates (pod restarts, crash loops, OOM kills, node
// conditions, high CPU/memory) backed by either a real Prometheus server
// or a deterministic in-process generator, so callers never see raw
// PromQL strings.
//
// Grounded on prometheus_client.py's PrometheusClient/PrometheusProvider
// split; RemoteProvider and MockProvider mirror its RealPrometheusProvider
// and MockPrometheusProvider.
package timeseries

import (
	"context"
	"errors"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// ErrBackendUnavailable distinguishes a transport/backend failure from a
// well-formed empty result, so callers can choose fail-open vs fail-closed
// (spec.md §4.6).
var ErrBackendUnavailable = errors.New("timeseries: backend unavailable")

// Provider is the query façade's backend contract.
type Provider interface {
	PodRestarts(ctx context.Context, namespace string) ([]domain.TimeSeriesSample, error)
	CrashLoopPods(ctx context.Context, namespace string) ([]domain.TimeSeriesSample, error)
	OOMKilledPods(ctx context.Context, namespace string) ([]domain.TimeSeriesSample, error)
	NodeConditions(ctx context.Context, condition string) ([]domain.TimeSeriesSample, error)
	HighCPUPods(ctx context.Context, namespace string, threshold float64) ([]domain.TimeSeriesSample, error)
	HighMemoryPods(ctx context.Context, namespace string, threshold float64) ([]domain.TimeSeriesSample, error)
}
