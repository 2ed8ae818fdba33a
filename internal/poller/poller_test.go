package poller

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dataplatform/admissionctl/internal/governance"
	"github.com/dataplatform/admissionctl/internal/health"
	"github.com/dataplatform/admissionctl/internal/observability"
	"github.com/dataplatform/admissionctl/internal/timeseries"
)

func newTestManager(t *testing.T, provider timeseries.Provider) *Manager {
	t.Helper()
	return NewManager(provider, health.NewEvaluator(), observability.NewMetrics(), governance.New(zap.NewNop(), false), zap.NewNop(), Config{
		Interval:        50 * time.Millisecond,
		Namespace:       "",
		CPUThreshold:    health.DefaultCPUThreshold,
		MemoryThreshold: health.DefaultMemoryThreshold,
		BackendLabel:    "mock",
	})
}

func TestPollOnce_NoAnomalies(t *testing.T) {
	provider := timeseries.NewMockProvider()
	m := newTestManager(t, provider)

	m.pollOnce(context.Background())

	result := m.LastResult()
	if len(result.Anomalies) != 0 {
		t.Errorf("expected no anomalies, got %d", len(result.Anomalies))
	}
}

func TestPollOnce_CrashLoopSurfacesCriticalAnomaly(t *testing.T) {
	provider := timeseries.NewMockProvider()
	provider.InjectAnomaly("crash_loop", map[string]string{"namespace": "default", "pod": "flaky"}, 1)
	m := newTestManager(t, provider)

	m.pollOnce(context.Background())

	result := m.LastResult()
	if result.CriticalCount == 0 {
		t.Fatalf("expected at least one critical anomaly, got %+v", result)
	}
	found := false
	for _, a := range result.Anomalies {
		if a.ResourceName == "flaky" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an anomaly for pod 'flaky', got %+v", result.Anomalies)
	}
}

func TestPollOnce_RestartCountBelowThresholdIsIgnored(t *testing.T) {
	provider := timeseries.NewMockProvider()
	provider.InjectAnomaly("pod_restarts", map[string]string{"namespace": "default", "pod": "quiet"}, 1)
	m := newTestManager(t, provider)

	m.pollOnce(context.Background())

	result := m.LastResult()
	if len(result.Anomalies) != 0 {
		t.Errorf("expected restart count 1 to stay below threshold, got %+v", result.Anomalies)
	}
}

func TestPollOnce_HighCPUAboveThresholdIsDetected(t *testing.T) {
	provider := timeseries.NewMockProvider()
	provider.InjectAnomaly("high_cpu", map[string]string{"namespace": "default", "pod": "hot"}, 97.0)
	m := newTestManager(t, provider)

	m.pollOnce(context.Background())

	result := m.LastResult()
	if len(result.Anomalies) == 0 {
		t.Fatal("expected a resource-usage anomaly for CPU above threshold")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	provider := timeseries.NewMockProvider()
	m := newTestManager(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestCategoryOf_ClassifiesBySignature(t *testing.T) {
	cases := []struct {
		name string
		a    health.Anomaly
		want string
	}{
		{"node", health.Anomaly{ResourceType: "node"}, "node_pressure"},
		{"crash_or_oom", health.Anomaly{Metrics: map[string]float64{}}, "crash_or_oom"},
		{"restart", health.Anomaly{Metrics: map[string]float64{"restart_count": 5}}, "restart_count"},
		{"resource", health.Anomaly{Metrics: map[string]float64{"usage_percent": 97}}, "resource_usage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := categoryOf(tc.a); got != tc.want {
				t.Errorf("categoryOf() = %q, want %q", got, tc.want)
			}
		})
	}
}
