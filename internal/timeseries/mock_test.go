package timeseries

import (
	"context"
	"testing"
)

func TestMockProvider_InjectAndQueryCrashLoop(t *testing.T) {
	p := NewMockProvider()
	p.InjectAnomaly("crash_loop", map[string]string{"namespace": "test-ns", "pod": "injected-pod"}, 1.0)

	results, err := p.CrashLoopPods(context.Background(), "test-ns")
	if err != nil {
		t.Fatalf("CrashLoopPods: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	v, ok := results[0].Latest()
	if !ok || v != 1.0 {
		t.Errorf("latest value = %v, %v; want 1.0, true", v, ok)
	}
}

func TestMockProvider_NamespaceFilterExcludesOtherNamespaces(t *testing.T) {
	p := NewMockProvider()
	p.InjectAnomaly("oom_killed", map[string]string{"namespace": "hdsp", "pod": "p1"}, 1.0)

	results, err := p.OOMKilledPods(context.Background(), "other-ns")
	if err != nil {
		t.Fatalf("OOMKilledPods: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for a different namespace, got %d", len(results))
	}
}

func TestMockProvider_HighCPUOnlyAboveThreshold(t *testing.T) {
	p := NewMockProvider()
	p.InjectAnomaly("high_cpu", map[string]string{"namespace": "default", "pod": "hot"}, 0.95)
	p.InjectAnomaly("high_cpu", map[string]string{"namespace": "default", "pod": "cool"}, 0.3)

	results, err := p.HighCPUPods(context.Background(), "default", 0.9)
	if err != nil {
		t.Fatalf("HighCPUPods: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (only the pod above threshold)", len(results))
	}
	if results[0].Labels["pod"] != "hot" {
		t.Errorf("unexpected pod surfaced: %v", results[0].Labels)
	}
}

func TestMockProvider_ClearInjectedEmptiesResults(t *testing.T) {
	p := NewMockProvider()
	p.InjectAnomaly("crash_loop", map[string]string{"namespace": "ns"}, 1.0)
	p.ClearInjected()

	results, err := p.CrashLoopPods(context.Background(), "")
	if err != nil {
		t.Fatalf("CrashLoopPods: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results after ClearInjected, got %d", len(results))
	}
}
