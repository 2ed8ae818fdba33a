package timeseries

import (
	"context"
	"sync"
	"time"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// MockProvider is a deterministic in-process generator used by
// cmd/admissiond's mock provider path and tests, grounded on
// test_prometheus_client.py's MockPrometheusProvider. Baseline samples are
// quiet (no restarts, no pressure, low CPU/memory); InjectAnomaly adds a
// named anomalous sample that the next matching query will surface.
type MockProvider struct {
	mu       sync.Mutex
	injected []injectedSample
	now      func() time.Time
}

type injectedSample struct {
	kind   string
	sample domain.TimeSeriesSample
}

// NewMockProvider returns an empty MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{now: time.Now}
}

// InjectAnomaly records a sample of the given kind (one of "crash_loop",
// "oom_killed", "node_pressure", "high_cpu", "high_memory",
// "pod_restarts") with the given labels, surfaced by the next matching
// query call.
func (p *MockProvider) InjectAnomaly(kind string, labels map[string]string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.injected = append(p.injected, injectedSample{
		kind: kind,
		sample: domain.TimeSeriesSample{
			Metric: kind,
			Labels: labels,
			Ts:     []int64{p.now().Unix()},
			Values: []float64{value},
		},
	})
}

// ClearInjected removes every previously-injected anomaly.
func (p *MockProvider) ClearInjected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.injected = nil
}

func (p *MockProvider) byKind(kind, namespace string) []domain.TimeSeriesSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.TimeSeriesSample
	for _, inj := range p.injected {
		if inj.kind != kind {
			continue
		}
		if namespace != "" && inj.sample.Labels["namespace"] != namespace {
			continue
		}
		out = append(out, inj.sample)
	}
	return out
}

func (p *MockProvider) PodRestarts(_ context.Context, namespace string) ([]domain.TimeSeriesSample, error) {
	return p.byKind("pod_restarts", namespace), nil
}

func (p *MockProvider) CrashLoopPods(_ context.Context, namespace string) ([]domain.TimeSeriesSample, error) {
	return p.byKind("crash_loop", namespace), nil
}

func (p *MockProvider) OOMKilledPods(_ context.Context, namespace string) ([]domain.TimeSeriesSample, error) {
	return p.byKind("oom_killed", namespace), nil
}

func (p *MockProvider) NodeConditions(_ context.Context, condition string) ([]domain.TimeSeriesSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.TimeSeriesSample
	for _, inj := range p.injected {
		if inj.kind != "node_pressure" {
			continue
		}
		if condition != "" && inj.sample.Labels["condition"] != condition {
			continue
		}
		out = append(out, inj.sample)
	}
	return out, nil
}

func (p *MockProvider) HighCPUPods(_ context.Context, namespace string, threshold float64) ([]domain.TimeSeriesSample, error) {
	return p.aboveThreshold("high_cpu", namespace, threshold), nil
}

func (p *MockProvider) HighMemoryPods(_ context.Context, namespace string, threshold float64) ([]domain.TimeSeriesSample, error) {
	return p.aboveThreshold("high_memory", namespace, threshold), nil
}

func (p *MockProvider) aboveThreshold(kind, namespace string, threshold float64) []domain.TimeSeriesSample {
	var out []domain.TimeSeriesSample
	for _, s := range p.byKind(kind, namespace) {
		if v, ok := s.Latest(); ok && v > threshold {
			out = append(out, s)
		}
	}
	return out
}
