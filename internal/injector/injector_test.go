package injector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInjectCrashLoop_PushesAndTracks(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inj := New(srv.URL)
	if err := inj.InjectCrashLoop(context.Background(), "default", "pod-a", "main", 12); err != nil {
		t.Fatalf("InjectCrashLoop: %v", err)
	}
	if requests != 1 {
		t.Errorf("expected 1 push request, got %d", requests)
	}

	tracked := inj.Injected()
	if len(tracked) != 1 {
		t.Fatalf("expected 1 tracked metric, got %d", len(tracked))
	}
	m := tracked[0]
	if m.MetricName != "kube_pod_container_status_waiting_reason" {
		t.Errorf("metric name = %q", m.MetricName)
	}
	if m.Labels["reason"] != "CrashLoopBackOff" {
		t.Errorf("reason label = %q, want CrashLoopBackOff", m.Labels["reason"])
	}
	if m.GroupingKey["namespace"] != "default" || m.GroupingKey["pod"] != "pod-a" {
		t.Errorf("grouping key = %v", m.GroupingKey)
	}
}

func TestInjectOOMKilled_TracksLastTerminatedReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inj := New(srv.URL)
	if err := inj.InjectOOMKilled(context.Background(), "prod", "pod-b", "main", 3); err != nil {
		t.Fatalf("InjectOOMKilled: %v", err)
	}
	tracked := inj.Injected()
	if len(tracked) != 1 || tracked[0].Labels["reason"] != "OOMKilled" {
		t.Fatalf("unexpected tracked metric: %+v", tracked)
	}
}

func TestInjectNodePressure_UsesNodeGroupingKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inj := New(srv.URL)
	if err := inj.InjectNodePressure(context.Background(), "node-1", "MemoryPressure", 100<<20, 4<<30); err != nil {
		t.Fatalf("InjectNodePressure: %v", err)
	}
	tracked := inj.Injected()
	if len(tracked) != 1 {
		t.Fatalf("expected 1 tracked metric, got %d", len(tracked))
	}
	if _, ok := tracked[0].GroupingKey["node"]; !ok {
		t.Errorf("expected a node grouping key, got %v", tracked[0].GroupingKey)
	}
	if _, ok := tracked[0].GroupingKey["namespace"]; ok {
		t.Errorf("node-scoped metric should not carry a namespace grouping key")
	}
}

func TestInjectHighCPU_TracksCadvisorJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inj := New(srv.URL)
	if err := inj.InjectHighCPU(context.Background(), "default", "pod-c", "main", 0.97, 1.0); err != nil {
		t.Fatalf("InjectHighCPU: %v", err)
	}
	tracked := inj.Injected()
	if len(tracked) != 1 || tracked[0].Job != "cadvisor" {
		t.Fatalf("unexpected tracked metric: %+v", tracked)
	}
}

func TestInjectHighMemory_ConvertsGBToBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inj := New(srv.URL)
	if err := inj.InjectHighMemory(context.Background(), "default", "pod-d", "main", 3.9, 4.0); err != nil {
		t.Fatalf("InjectHighMemory: %v", err)
	}
	tracked := inj.Injected()
	if len(tracked) != 1 {
		t.Fatalf("expected 1 tracked metric, got %d", len(tracked))
	}
	const gib = 1024 * 1024 * 1024
	want := 3.9 * gib
	if tracked[0].Value != want {
		t.Errorf("value = %f, want %f", tracked[0].Value, want)
	}
}

func TestInjectPodRestarts_Tracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inj := New(srv.URL)
	if err := inj.InjectPodRestarts(context.Background(), "default", "pod-e", "main", 8); err != nil {
		t.Fatalf("InjectPodRestarts: %v", err)
	}
	tracked := inj.Injected()
	if len(tracked) != 1 || tracked[0].Value != 8 {
		t.Fatalf("unexpected tracked metric: %+v", tracked)
	}
}

func TestClearMetrics_AcceptsOKAndAccepted(t *testing.T) {
	var deletes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletes++
			if deletes == 1 {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusAccepted)
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inj := New(srv.URL)
	if err := inj.InjectCrashLoop(context.Background(), "default", "pod-a", "main", 1); err != nil {
		t.Fatalf("InjectCrashLoop: %v", err)
	}
	if err := inj.InjectPodRestarts(context.Background(), "default", "pod-b", "main", 1); err != nil {
		t.Fatalf("InjectPodRestarts: %v", err)
	}

	cleared, err := inj.ClearMetrics(context.Background())
	if err != nil {
		t.Fatalf("ClearMetrics: %v", err)
	}
	if cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}
	if len(inj.Injected()) != 0 {
		t.Errorf("expected tracked metrics cleared after ClearMetrics")
	}
}

func TestClearMetrics_StopsOnFirstFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inj := New(srv.URL)
	if err := inj.InjectCrashLoop(context.Background(), "default", "pod-a", "main", 1); err != nil {
		t.Fatalf("InjectCrashLoop: %v", err)
	}

	cleared, err := inj.ClearMetrics(context.Background())
	if err == nil {
		t.Fatal("expected an error from ClearMetrics on a 500 response")
	}
	if cleared != 0 {
		t.Errorf("cleared = %d, want 0", cleared)
	}
}
