// Package health implements the health evaluator (spec.md §4.8): turns raw
// internal/timeseries samples into a list of Anomaly records plus a
// DetectionResult summary, using the same severity ladders as
// test_hdsp_detection.py's HDSPAnomalyDetector.
package health

import (
	"fmt"
	"regexp"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// Default thresholds (test_hdsp_detection.py's HDSPAnomalyDetector defaults).
const (
	DefaultRestartThreshold = 3
	DefaultCPUThreshold     = 90.0
	DefaultMemoryThreshold  = 85.0
)

// Anomaly is one detected Kubernetes-level failure signature.
type Anomaly struct {
	Type         domain.AnomalyType
	Severity     domain.Severity
	Namespace    string
	ResourceName string
	ResourceType string
	Message      string
	Metrics      map[string]float64
	Labels       map[string]string
}

// DetectionResult summarizes a batch of Anomaly records.
type DetectionResult struct {
	Anomalies     []Anomaly
	CriticalCount int
	HighCount     int
	MediumCount   int
	LowCount      int
	Summary       string
}

// HasCritical reports whether any anomaly reached critical severity.
func (r DetectionResult) HasCritical() bool { return r.CriticalCount > 0 }

// Evaluator turns timeseries samples into Anomaly records. restartThreshold
// defines where the restart-count ladder starts counting as anomalous at
// all; cpu/memoryThreshold are the base of their respective resource
// ladders (spec.md §4.8).
type Evaluator struct {
	RestartThreshold int
	CPUThreshold     float64
	MemoryThreshold  float64
	// ExcludeNamespace filters out system pods before evaluation, e.g.
	// `^kube-system$|^kube-public$`. Empty disables filtering.
	ExcludeNamespace *regexp.Regexp
}

// NewEvaluator builds an Evaluator with the package defaults.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		RestartThreshold: DefaultRestartThreshold,
		CPUThreshold:     DefaultCPUThreshold,
		MemoryThreshold:  DefaultMemoryThreshold,
	}
}

func (e *Evaluator) excluded(namespace string) bool {
	return e.ExcludeNamespace != nil && e.ExcludeNamespace.MatchString(namespace)
}

// EvaluateRestarts classifies pod-restart-count samples.
func (e *Evaluator) EvaluateRestarts(samples []domain.TimeSeriesSample) []Anomaly {
	var out []Anomaly
	for _, s := range samples {
		ns := s.Labels["namespace"]
		if e.excluded(ns) {
			continue
		}
		count, ok := s.Latest()
		if !ok || count < float64(e.RestartThreshold) {
			continue
		}
		out = append(out, Anomaly{
			Type: domain.AnomalyMetric, Severity: restartSeverity(count),
			Namespace: ns, ResourceName: s.Labels["pod"], ResourceType: "pod",
			Message: fmt.Sprintf("%s/%s has restarted %.0f times", ns, s.Labels["pod"], count),
			Metrics: map[string]float64{"restart_count": count}, Labels: s.Labels,
		})
	}
	return out
}

// EvaluateCrashLoop and EvaluateOOMKilled are always critical (spec.md §4.8).
func (e *Evaluator) EvaluateCrashLoop(samples []domain.TimeSeriesSample) []Anomaly {
	return e.alwaysCritical(samples, "CrashLoopBackOff")
}

func (e *Evaluator) EvaluateOOMKilled(samples []domain.TimeSeriesSample) []Anomaly {
	return e.alwaysCritical(samples, "OOMKilled")
}

func (e *Evaluator) alwaysCritical(samples []domain.TimeSeriesSample, reason string) []Anomaly {
	var out []Anomaly
	for _, s := range samples {
		ns := s.Labels["namespace"]
		if e.excluded(ns) {
			continue
		}
		out = append(out, Anomaly{
			Type: domain.AnomalyMetric, Severity: domain.SeverityCritical,
			Namespace: ns, ResourceName: s.Labels["pod"], ResourceType: "pod",
			Message: fmt.Sprintf("%s in %s/%s", reason, ns, s.Labels["pod"]),
			Metrics: map[string]float64{}, Labels: s.Labels,
		})
	}
	return out
}

// EvaluateNodePressure reports every injected node-condition sample as
// high severity (spec.md §4.8: "Node pressure: high").
func (e *Evaluator) EvaluateNodePressure(samples []domain.TimeSeriesSample) []Anomaly {
	var out []Anomaly
	for _, s := range samples {
		v, ok := s.Latest()
		if !ok || v == 0 {
			continue
		}
		out = append(out, Anomaly{
			Type: domain.AnomalyMetric, Severity: domain.SeverityHigh,
			ResourceName: s.Labels["node"], ResourceType: "node",
			Message: fmt.Sprintf("%s under %s", s.Labels["node"], s.Labels["condition"]),
			Metrics: map[string]float64{}, Labels: s.Labels,
		})
	}
	return out
}

// EvaluateResourceUsage classifies CPU or memory usage-ratio samples
// (already expressed as a percentage, e.g. 96.0 for 96%) against threshold.
func (e *Evaluator) EvaluateResourceUsage(samples []domain.TimeSeriesSample, threshold float64, resourceType string) []Anomaly {
	var out []Anomaly
	for _, s := range samples {
		ns := s.Labels["namespace"]
		if e.excluded(ns) {
			continue
		}
		usage, ok := s.Latest()
		if !ok || usage < threshold {
			continue
		}
		out = append(out, Anomaly{
			Type: domain.AnomalyMetric, Severity: resourceSeverity(usage, threshold),
			Namespace: ns, ResourceName: s.Labels["pod"], ResourceType: "pod",
			Message: fmt.Sprintf("%s/%s %s usage at %.1f%% (threshold %.1f%%)", ns, s.Labels["pod"], resourceType, usage, threshold),
			Metrics: map[string]float64{"usage_percent": usage, "threshold": threshold}, Labels: s.Labels,
		})
	}
	return out
}

// restartSeverity implements test_hdsp_detection.py's
// _calculate_restart_severity ladder exactly.
func restartSeverity(count float64) domain.Severity {
	switch {
	case count >= 10:
		return domain.SeverityCritical
	case count >= 7:
		return domain.SeverityHigh
	case count >= 4:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// resourceSeverity implements test_hdsp_detection.py's
// _calculate_resource_severity ladder: >=threshold+5 critical,
// >=threshold+3 high, >=threshold medium.
func resourceSeverity(usage, threshold float64) domain.Severity {
	switch {
	case usage >= threshold+5:
		return domain.SeverityCritical
	case usage >= threshold+3:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

// Summarize folds a flat anomaly list into a DetectionResult with counts
// and a one-line human summary, grounded on the original's
// get_detection_summary().
func Summarize(anomalies []Anomaly) DetectionResult {
	result := DetectionResult{Anomalies: anomalies}
	for _, a := range anomalies {
		switch a.Severity {
		case domain.SeverityCritical:
			result.CriticalCount++
		case domain.SeverityHigh:
			result.HighCount++
		case domain.SeverityMedium:
			result.MediumCount++
		default:
			result.LowCount++
		}
	}
	result.Summary = summaryLine(result)
	return result
}

func summaryLine(r DetectionResult) string {
	total := len(r.Anomalies)
	if total == 0 {
		return "no anomalies detected"
	}
	if r.CriticalCount > 0 {
		return fmt.Sprintf("%d critical anomal%s detected out of %d total", r.CriticalCount, plural(r.CriticalCount), total)
	}
	return fmt.Sprintf("%d anomalies detected (%d high, %d medium, %d low)", total, r.HighCount, r.MediumCount, r.LowCount)
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
