package timeseries

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// QueryTimeout is the default per-query round-trip timeout (spec.md §5:
// "every such call has a bounded timeout, default 10s for query").
const QueryTimeout = 10 * time.Second

// RemoteProvider queries a live Prometheus-compatible server's
// /api/v1/query endpoint via the official client, translating the
// spec's domain predicates into PromQL.
type RemoteProvider struct {
	api v1.API
}

// NewRemoteProvider builds a RemoteProvider against the given Prometheus
// base URL (e.g. "http://localhost:9090").
func NewRemoteProvider(address string) (*RemoteProvider, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("timeseries: building prometheus client: %w", err)
	}
	return &RemoteProvider{api: v1.NewAPI(client)}, nil
}

func (p *RemoteProvider) query(ctx context.Context, promql string) ([]domain.TimeSeriesSample, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	value, _, err := p.api.Query(ctx, promql, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return toSamples(value), nil
}

func toSamples(value model.Value) []domain.TimeSeriesSample {
	vector, ok := value.(model.Vector)
	if !ok {
		return nil
	}
	samples := make([]domain.TimeSeriesSample, 0, len(vector))
	for _, s := range vector {
		labels := make(map[string]string, len(s.Metric))
		metricName := ""
		for name, val := range s.Metric {
			if name == model.MetricNameLabel {
				metricName = string(val)
				continue
			}
			labels[string(name)] = string(val)
		}
		samples = append(samples, domain.TimeSeriesSample{
			Metric: metricName,
			Labels: labels,
			Ts:     []int64{s.Timestamp.Unix()},
			Values: []float64{float64(s.Value)},
		})
	}
	return samples
}

func (p *RemoteProvider) PodRestarts(ctx context.Context, namespace string) ([]domain.TimeSeriesSample, error) {
	return p.query(ctx, namespaceQuery("kube_pod_container_status_restarts_total", namespace))
}

func (p *RemoteProvider) CrashLoopPods(ctx context.Context, namespace string) ([]domain.TimeSeriesSample, error) {
	q := `kube_pod_container_status_waiting_reason{reason="CrashLoopBackOff"}`
	return p.query(ctx, withNamespace(q, namespace))
}

func (p *RemoteProvider) OOMKilledPods(ctx context.Context, namespace string) ([]domain.TimeSeriesSample, error) {
	q := `kube_pod_container_status_last_terminated_reason{reason="OOMKilled"}`
	return p.query(ctx, withNamespace(q, namespace))
}

func (p *RemoteProvider) NodeConditions(ctx context.Context, condition string) ([]domain.TimeSeriesSample, error) {
	q := `kube_node_status_condition{status="true"}`
	if condition != "" {
		q = fmt.Sprintf(`kube_node_status_condition{condition=%q,status="true"}`, condition)
	}
	return p.query(ctx, q)
}

func (p *RemoteProvider) HighCPUPods(ctx context.Context, namespace string, threshold float64) ([]domain.TimeSeriesSample, error) {
	q := fmt.Sprintf(
		`(rate(container_cpu_usage_seconds_total%s[5m]) / on(namespace,pod,container) kube_pod_container_resource_limits{resource="cpu"%s}) > %g`,
		namespaceLabel(namespace), namespaceLabel(namespace), threshold)
	return p.query(ctx, q)
}

func (p *RemoteProvider) HighMemoryPods(ctx context.Context, namespace string, threshold float64) ([]domain.TimeSeriesSample, error) {
	q := fmt.Sprintf(
		`(container_memory_working_set_bytes%s / on(namespace,pod,container) kube_pod_container_resource_limits{resource="memory"%s}) > %g`,
		namespaceLabel(namespace), namespaceLabel(namespace), threshold)
	return p.query(ctx, q)
}

func namespaceLabel(namespace string) string {
	if namespace == "" {
		return ""
	}
	return fmt.Sprintf(`{namespace=%q}`, namespace)
}

func namespaceQuery(metric, namespace string) string {
	return metric + namespaceLabel(namespace)
}

func withNamespace(query, namespace string) string {
	if namespace == "" {
		return query
	}
	// query already has a brace-delimited label matcher; splice the
	// namespace matcher in rather than appending a second brace group.
	return query[:len(query)-1] + fmt.Sprintf(`,namespace=%q}`, namespace)
}
