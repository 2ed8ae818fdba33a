// Package governance validates the cross-cutting invariants spec.md §3
// requires to hold at all times across admission decisions and anomaly
// records, independent of which component produced them.
//
// INVARIANTS ENFORCED:
// 1. sum(parallel_hint) over RUNNING registrations for a source must not
//    exceed that source's threshold, immediately after any commit.
// 2. original_parallel is set iff parallel_hint < requested_parallel.
// 3. confidence is in [0,1] and severity is a pure function of confidence.
// 4. Every RUNNING registration with ttl < now is treated as released.
//
// Grounded on octoreflex's internal/governance/constitutional.go: the same
// shape (a stateful Kernel validating inbound records against bounds,
// counting violations, logging with zap, panicking only in strict/test
// mode) generalized from escalation-decision axioms to admission/anomaly
// invariants.
package governance

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// ViolationType enumerates the invariant categories this package checks.
type ViolationType string

const (
	ViolationCapacityExceeded    ViolationType = "capacity_exceeded"
	ViolationDowngradeMismatch   ViolationType = "downgrade_mismatch"
	ViolationConfidenceOutOfBounds ViolationType = "confidence_out_of_bounds"
	ViolationSeverityMismatch    ViolationType = "severity_mismatch"
	ViolationStaleRegistration   ViolationType = "stale_registration_not_released"
	ViolationNaNInf              ViolationType = "nan_inf_detected"
)

// Violation represents a single invariant breach.
type Violation struct {
	Type      ViolationType          `json:"type"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation [%s]: %s", v.Type, v.Message)
}

// Kernel validates admission and anomaly records against spec.md §3's
// invariants, accumulating a violation count for observability.
type Kernel struct {
	mu             sync.Mutex
	logger         *zap.Logger
	strict         bool // if true, violations panic (test mode only)
	violationCount int64
	checkedCount   int64
}

// New creates a Kernel. strict should only be true in tests: it panics on
// the first detected violation instead of logging and continuing.
func New(logger *zap.Logger, strict bool) *Kernel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kernel{logger: logger, strict: strict}
}

// CheckAdmissionResult validates a single AdmissionResult against the
// registry's aggregate usage for its source, enforcing invariant 1 and
// invariant 2 of spec.md §3.
func (k *Kernel) CheckAdmissionResult(res domain.AdmissionResult, threshold int, reg *domain.BatchRegistration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkedCount++

	if res.Allowed && res.CurrentUsage+res.Parallel > threshold {
		return k.violate(&Violation{
			Type:      ViolationCapacityExceeded,
			Message:   fmt.Sprintf("current_usage(%d) + parallel(%d) exceeds threshold(%d)", res.CurrentUsage, res.Parallel, threshold),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"current_usage": res.CurrentUsage, "parallel": res.Parallel, "threshold": threshold},
		})
	}

	if reg != nil && reg.OriginalParallel != nil && reg.ParallelHint >= *reg.OriginalParallel {
		return k.violate(&Violation{
			Type:      ViolationDowngradeMismatch,
			Message:   fmt.Sprintf("original_parallel set (%d) but parallel_hint (%d) is not lower", *reg.OriginalParallel, reg.ParallelHint),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"parallel_hint": reg.ParallelHint, "original_parallel": *reg.OriginalParallel},
		})
	}

	return nil
}

// CheckAnomalyRecord validates confidence bounds and severity purity
// (invariant 3).
func (k *Kernel) CheckAnomalyRecord(rec domain.AnomalyRecord, severityOf func(confidence float64) domain.Severity) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkedCount++

	if math.IsNaN(rec.Confidence) || math.IsInf(rec.Confidence, 0) {
		return k.violate(&Violation{
			Type:      ViolationNaNInf,
			Message:   fmt.Sprintf("confidence is NaN or Inf: %f", rec.Confidence),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"signature": rec.Signature},
		})
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		return k.violate(&Violation{
			Type:      ViolationConfidenceOutOfBounds,
			Message:   fmt.Sprintf("confidence %.4f outside [0,1]", rec.Confidence),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"signature": rec.Signature, "confidence": rec.Confidence},
		})
	}
	if severityOf != nil {
		if want := severityOf(rec.Confidence); want != rec.Severity {
			return k.violate(&Violation{
				Type:      ViolationSeverityMismatch,
				Message:   fmt.Sprintf("severity %s does not match pure function of confidence %.4f (want %s)", rec.Severity, rec.Confidence, want),
				Timestamp: time.Now(),
				Context:   map[string]interface{}{"signature": rec.Signature, "confidence": rec.Confidence, "severity": rec.Severity.String()},
			})
		}
	}
	return nil
}

// CheckRegistrationNotStale enforces invariant 4: a RUNNING registration
// whose ttl has passed must be treated as released by callers, never
// counted toward current_usage.
func (k *Kernel) CheckRegistrationNotStale(reg domain.BatchRegistration, now time.Time) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkedCount++

	if reg.Status == domain.StatusRunning && reg.Expired(now) {
		return k.violate(&Violation{
			Type:      ViolationStaleRegistration,
			Message:   fmt.Sprintf("registration ttl %d has passed but status is still RUNNING", reg.TTL),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"ttl": reg.TTL, "now": now.Unix()},
		})
	}
	return nil
}

// violate records and dispatches a violation. Must be called with k.mu held.
func (k *Kernel) violate(v *Violation) error {
	k.violationCount++
	k.logger.Error("invariant violation",
		zap.String("type", string(v.Type)),
		zap.String("message", v.Message),
		zap.Any("context", v.Context),
		zap.Int64("total_violations", k.violationCount),
	)
	if k.strict {
		panic(fmt.Sprintf("invariant violation in strict mode: %v", v))
	}
	return v
}

// Stats summarizes kernel activity.
type Stats struct {
	CheckedCount   int64 `json:"checked_count"`
	ViolationCount int64 `json:"violation_count"`
}

// GetStats returns current kernel statistics.
func (k *Kernel) GetStats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Stats{CheckedCount: k.checkedCount, ViolationCount: k.violationCount}
}
