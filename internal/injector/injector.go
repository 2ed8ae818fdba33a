// Package injector publishes synthetic Kubernetes failure-scenario metrics
// to a Prometheus pushgateway, for exercising internal/timeseries and
// internal/health against realistic failure signatures without a live
// cluster.
//
// Grounded on metric_injector.py's MetricInjector: one Inject<Scenario>
// method per scenario, each building the same metric families and
// grouping keys as the Python original, now pushed via
// prometheus/client_golang/prometheus/push instead of a hand-rolled HTTP
// POST.
package injector

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// InjectedMetric tracks one push, so it can later be cleared by grouping key.
type InjectedMetric struct {
	MetricName  string
	Labels      map[string]string
	Value       float64
	Job         string
	GroupingKey map[string]string
	InjectedAt  time.Time
}

// Injector pushes failure-scenario metrics and tracks them for cleanup.
// Safe for concurrent use.
type Injector struct {
	pushgatewayURL string
	httpClient     *http.Client
	now            func() time.Time

	mu       sync.Mutex
	injected []InjectedMetric
}

// New builds an Injector targeting the given pushgateway base URL
// (e.g. "http://localhost:9091").
func New(pushgatewayURL string) *Injector {
	return &Injector{
		pushgatewayURL: pushgatewayURL,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		now:            time.Now,
	}
}

func (inj *Injector) pusher(job string) *push.Pusher {
	return push.New(inj.pushgatewayURL, job).Client(inj.httpClient)
}

func (inj *Injector) track(m InjectedMetric) {
	m.InjectedAt = inj.now()
	inj.mu.Lock()
	inj.injected = append(inj.injected, m)
	inj.mu.Unlock()
}

// InjectCrashLoop publishes a CrashLoopBackOff waiting-reason gauge plus a
// restart counter for one pod.
func (inj *Injector) InjectCrashLoop(ctx context.Context, namespace, pod, container string, restartCount int) error {
	waiting := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kube_pod_container_status_waiting_reason",
		Help: "Describes the reason the container is currently in waiting state.",
	}, []string{"namespace", "pod", "container", "reason"})
	restarts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kube_pod_container_status_restarts_total",
		Help: "The number of container restarts per container.",
	}, []string{"namespace", "pod", "container"})

	waiting.WithLabelValues(namespace, pod, container, "CrashLoopBackOff").Set(1)
	restarts.WithLabelValues(namespace, pod, container).Add(float64(restartCount))

	groupingKey := map[string]string{"namespace": namespace, "pod": pod}
	if err := inj.push(ctx, "kube-state-metrics", groupingKey, waiting, restarts); err != nil {
		return err
	}
	inj.track(InjectedMetric{
		MetricName: "kube_pod_container_status_waiting_reason",
		Labels:     map[string]string{"namespace": namespace, "pod": pod, "container": container, "reason": "CrashLoopBackOff"},
		Value:      1, Job: "kube-state-metrics", GroupingKey: groupingKey,
	})
	return nil
}

// InjectOOMKilled publishes a last-terminated-reason=OOMKilled gauge plus
// its terminated-state and restart-count counters.
func (inj *Injector) InjectOOMKilled(ctx context.Context, namespace, pod, container string, restartCount int) error {
	lastTerminated := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kube_pod_container_status_last_terminated_reason",
		Help: "Describes the last reason the container was in terminated state.",
	}, []string{"namespace", "pod", "container", "reason"})
	terminated := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kube_pod_container_status_terminated",
		Help: "Describes whether the container is currently in terminated state.",
	}, []string{"namespace", "pod", "container"})
	restarts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kube_pod_container_status_restarts_total",
		Help: "The number of container restarts per container.",
	}, []string{"namespace", "pod", "container"})

	lastTerminated.WithLabelValues(namespace, pod, container, "OOMKilled").Set(1)
	terminated.WithLabelValues(namespace, pod, container).Set(1)
	restarts.WithLabelValues(namespace, pod, container).Add(float64(restartCount))

	groupingKey := map[string]string{"namespace": namespace, "pod": pod}
	if err := inj.push(ctx, "kube-state-metrics", groupingKey, lastTerminated, terminated, restarts); err != nil {
		return err
	}
	inj.track(InjectedMetric{
		MetricName: "kube_pod_container_status_last_terminated_reason",
		Labels:     map[string]string{"namespace": namespace, "pod": pod, "container": container, "reason": "OOMKilled"},
		Value:      1, Job: "kube-state-metrics", GroupingKey: groupingKey,
	})
	return nil
}

// InjectNodePressure publishes a node condition gauge plus the memory
// gauges a real node-exporter/kube-state-metrics pair would expose.
func (inj *Injector) InjectNodePressure(ctx context.Context, node, condition string, availableMemoryBytes, allocatableMemoryBytes int64) error {
	nodeCondition := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kube_node_status_condition",
		Help: "The condition of a cluster node.",
	}, []string{"node", "condition", "status"})
	allocatable := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kube_node_status_allocatable_memory_bytes",
		Help: "The allocatable memory of a node that is available for scheduling.",
	}, []string{"node"})
	available := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "node_memory_MemAvailable_bytes",
		Help: "Memory information field MemAvailable_bytes.",
	}, []string{"node"})

	nodeCondition.WithLabelValues(node, condition, "true").Set(1)
	nodeCondition.WithLabelValues(node, condition, "false").Set(0)
	nodeCondition.WithLabelValues(node, condition, "unknown").Set(0)
	allocatable.WithLabelValues(node).Set(float64(allocatableMemoryBytes))
	available.WithLabelValues(node).Set(float64(availableMemoryBytes))

	groupingKey := map[string]string{"node": node}
	if err := inj.push(ctx, "kube-state-metrics", groupingKey, nodeCondition, allocatable, available); err != nil {
		return err
	}
	inj.track(InjectedMetric{
		MetricName: "kube_node_status_condition",
		Labels:     map[string]string{"node": node, "condition": condition, "status": "true"},
		Value:      1, Job: "kube-state-metrics", GroupingKey: groupingKey,
	})
	return nil
}

// InjectHighCPU publishes cumulative CPU-seconds, the container's CPU
// limit, and CFS-throttled seconds for one pod.
func (inj *Injector) InjectHighCPU(ctx context.Context, namespace, pod, container string, cpuUsageRatio, cpuLimitCores float64) error {
	cpuSeconds := float64(inj.now().Unix()) * cpuUsageRatio
	throttledSeconds := 0.0
	if cpuUsageRatio > 0.9 {
		throttledSeconds = 1500
	}

	usage := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "container_cpu_usage_seconds_total",
		Help: "Cumulative cpu time consumed.",
	}, []string{"namespace", "pod", "container"})
	limits := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kube_pod_container_resource_limits",
		Help: "The number of requested limit resource by a container.",
	}, []string{"namespace", "pod", "container", "resource"})
	throttled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "container_cpu_cfs_throttled_seconds_total",
		Help: "Total time duration the container has been throttled.",
	}, []string{"namespace", "pod", "container"})

	usage.WithLabelValues(namespace, pod, container).Add(cpuSeconds)
	limits.WithLabelValues(namespace, pod, container, "cpu").Set(cpuLimitCores)
	throttled.WithLabelValues(namespace, pod, container).Add(throttledSeconds)

	groupingKey := map[string]string{"namespace": namespace, "pod": pod}
	if err := inj.push(ctx, "cadvisor", groupingKey, usage, limits, throttled); err != nil {
		return err
	}
	inj.track(InjectedMetric{
		MetricName: "container_cpu_usage_seconds_total",
		Labels:     map[string]string{"namespace": namespace, "pod": pod, "container": container},
		Value:      cpuSeconds, Job: "cadvisor", GroupingKey: groupingKey,
	})
	return nil
}

// InjectHighMemory publishes working-set, usage, limit, and cache gauges
// for one pod.
func (inj *Injector) InjectHighMemory(ctx context.Context, namespace, pod, container string, memoryUsageGB, memoryLimitGB float64) error {
	const gib = 1024 * 1024 * 1024
	memoryBytes := memoryUsageGB * gib
	limitBytes := memoryLimitGB * gib
	const cacheBytes = 100_000_000

	workingSet := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "container_memory_working_set_bytes",
		Help: "Current working set of the container in bytes.",
	}, []string{"namespace", "pod", "container"})
	usage := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "container_memory_usage_bytes",
		Help: "Current memory usage in bytes.",
	}, []string{"namespace", "pod", "container"})
	limits := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kube_pod_container_resource_limits",
		Help: "The number of requested limit resource by a container.",
	}, []string{"namespace", "pod", "container", "resource"})
	cache := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "container_memory_cache",
		Help: "Total page cache memory.",
	}, []string{"namespace", "pod", "container"})

	workingSet.WithLabelValues(namespace, pod, container).Set(memoryBytes)
	usage.WithLabelValues(namespace, pod, container).Set(memoryBytes)
	limits.WithLabelValues(namespace, pod, container, "memory").Set(limitBytes)
	cache.WithLabelValues(namespace, pod, container).Set(cacheBytes)

	groupingKey := map[string]string{"namespace": namespace, "pod": pod}
	if err := inj.push(ctx, "cadvisor", groupingKey, workingSet, usage, limits, cache); err != nil {
		return err
	}
	inj.track(InjectedMetric{
		MetricName: "container_memory_working_set_bytes",
		Labels:     map[string]string{"namespace": namespace, "pod": pod, "container": container},
		Value:      memoryBytes, Job: "cadvisor", GroupingKey: groupingKey,
	})
	return nil
}

// InjectPodRestarts publishes a restart counter plus running/phase gauges
// for one pod.
func (inj *Injector) InjectPodRestarts(ctx context.Context, namespace, pod, container string, restartCount int) error {
	restarts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kube_pod_container_status_restarts_total",
		Help: "The number of container restarts per container.",
	}, []string{"namespace", "pod", "container"})
	running := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kube_pod_container_status_running",
		Help: "Describes whether the container is currently in running state.",
	}, []string{"namespace", "pod", "container"})
	phase := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kube_pod_status_phase",
		Help: "The pods current phase.",
	}, []string{"namespace", "pod", "phase"})

	restarts.WithLabelValues(namespace, pod, container).Add(float64(restartCount))
	running.WithLabelValues(namespace, pod, container).Set(1)
	phase.WithLabelValues(namespace, pod, "Running").Set(1)
	phase.WithLabelValues(namespace, pod, "Pending").Set(0)
	phase.WithLabelValues(namespace, pod, "Failed").Set(0)

	groupingKey := map[string]string{"namespace": namespace, "pod": pod}
	if err := inj.push(ctx, "kube-state-metrics", groupingKey, restarts, running, phase); err != nil {
		return err
	}
	inj.track(InjectedMetric{
		MetricName: "kube_pod_container_status_restarts_total",
		Labels:     map[string]string{"namespace": namespace, "pod": pod, "container": container},
		Value:      float64(restartCount), Job: "kube-state-metrics", GroupingKey: groupingKey,
	})
	return nil
}

func (inj *Injector) push(ctx context.Context, job string, groupingKey map[string]string, collectors ...prometheus.Collector) error {
	pusher := inj.pusher(job)
	for k, v := range groupingKey {
		pusher = pusher.Grouping(k, v)
	}
	for _, c := range collectors {
		pusher = pusher.Collector(c)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("injector: pushing to pushgateway: %w", err)
	}
	return nil
}

// ClearMetrics deletes every previously-injected metric group from the
// pushgateway, in injection order, and returns the number cleared. The
// first deletion failure stops the sweep; metrics already cleared stay
// cleared.
func (inj *Injector) ClearMetrics(ctx context.Context) (int, error) {
	inj.mu.Lock()
	pending := inj.injected
	inj.injected = nil
	inj.mu.Unlock()

	cleared := 0
	for _, m := range pending {
		if err := inj.deleteGroup(ctx, m.Job, m.GroupingKey); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

// deleteGroup issues the pushgateway's group-delete, treating both 200 and
// 202 as success (spec.md §9: the source accepts both; matched exactly).
func (inj *Injector) deleteGroup(ctx context.Context, job string, groupingKey map[string]string) error {
	url := fmt.Sprintf("%s/metrics/job/%s", inj.pushgatewayURL, job)
	for k, v := range groupingKey {
		url += fmt.Sprintf("/%s/%s", k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("injector: building delete request: %w", err)
	}
	resp, err := inj.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("injector: deleting metric group: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("injector: unexpected status deleting metric group: %d", resp.StatusCode)
	}
	return nil
}

// Injected returns a snapshot of every currently-tracked injected metric.
func (inj *Injector) Injected() []InjectedMetric {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	out := make([]InjectedMetric, len(inj.injected))
	copy(out, inj.injected)
	return out
}
