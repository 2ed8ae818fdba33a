package governance

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dataplatform/admissionctl/internal/domain"
)

func admissionSeverityOf(confidence float64) domain.Severity {
	switch {
	case confidence >= 0.8:
		return domain.SeverityCritical
	case confidence >= 0.65:
		return domain.SeverityHigh
	case confidence >= 0.5:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func TestCheckAdmissionResult_CapacityExceededIsViolation(t *testing.T) {
	k := New(zap.NewNop(), false)
	res := domain.AdmissionResult{Allowed: true, Parallel: 10, CurrentUsage: 95}
	err := k.CheckAdmissionResult(res, 100, nil)
	if err == nil {
		t.Fatal("expected capacity-exceeded violation")
	}
	if v, ok := err.(*Violation); !ok || v.Type != ViolationCapacityExceeded {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckAdmissionResult_WithinCapacityPasses(t *testing.T) {
	k := New(zap.NewNop(), false)
	res := domain.AdmissionResult{Allowed: true, Parallel: 5, CurrentUsage: 90}
	if err := k.CheckAdmissionResult(res, 100, nil); err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
}

func TestCheckAdmissionResult_DowngradeMismatch(t *testing.T) {
	k := New(zap.NewNop(), false)
	original := 8
	reg := &domain.BatchRegistration{ParallelHint: 8, OriginalParallel: &original}
	err := k.CheckAdmissionResult(domain.AdmissionResult{}, 100, reg)
	if err == nil {
		t.Fatal("expected downgrade-mismatch violation")
	}
	if v, ok := err.(*Violation); !ok || v.Type != ViolationDowngradeMismatch {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckAdmissionResult_ValidDowngradePasses(t *testing.T) {
	k := New(zap.NewNop(), false)
	original := 16
	reg := &domain.BatchRegistration{ParallelHint: 4, OriginalParallel: &original}
	if err := k.CheckAdmissionResult(domain.AdmissionResult{}, 100, reg); err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
}

func TestCheckAnomalyRecord_ConfidenceOutOfBounds(t *testing.T) {
	k := New(zap.NewNop(), false)
	rec := domain.AnomalyRecord{Confidence: 1.5, Severity: domain.SeverityCritical}
	err := k.CheckAnomalyRecord(rec, admissionSeverityOf)
	if err == nil {
		t.Fatal("expected confidence-out-of-bounds violation")
	}
	if v, ok := err.(*Violation); !ok || v.Type != ViolationConfidenceOutOfBounds {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckAnomalyRecord_NaNConfidence(t *testing.T) {
	k := New(zap.NewNop(), false)
	rec := domain.AnomalyRecord{Confidence: math.NaN()}
	err := k.CheckAnomalyRecord(rec, nil)
	if err == nil {
		t.Fatal("expected NaN violation")
	}
	if v, ok := err.(*Violation); !ok || v.Type != ViolationNaNInf {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckAnomalyRecord_SeverityMismatch(t *testing.T) {
	k := New(zap.NewNop(), false)
	rec := domain.AnomalyRecord{Confidence: 0.9, Severity: domain.SeverityLow}
	err := k.CheckAnomalyRecord(rec, admissionSeverityOf)
	if err == nil {
		t.Fatal("expected severity-mismatch violation")
	}
	if v, ok := err.(*Violation); !ok || v.Type != ViolationSeverityMismatch {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckAnomalyRecord_ConsistentSeverityPasses(t *testing.T) {
	k := New(zap.NewNop(), false)
	rec := domain.AnomalyRecord{Confidence: 0.9, Severity: domain.SeverityCritical}
	if err := k.CheckAnomalyRecord(rec, admissionSeverityOf); err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
}

func TestCheckRegistrationNotStale_ExpiredButRunningIsViolation(t *testing.T) {
	k := New(zap.NewNop(), false)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	reg := domain.BatchRegistration{Status: domain.StatusRunning, TTL: now.Add(-time.Hour).Unix()}
	err := k.CheckRegistrationNotStale(reg, now)
	if err == nil {
		t.Fatal("expected stale-registration violation")
	}
	if v, ok := err.(*Violation); !ok || v.Type != ViolationStaleRegistration {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckRegistrationNotStale_CompletedNeverViolates(t *testing.T) {
	k := New(zap.NewNop(), false)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	reg := domain.BatchRegistration{Status: domain.StatusCompleted, TTL: now.Add(-time.Hour).Unix()}
	if err := k.CheckRegistrationNotStale(reg, now); err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
}

func TestGetStats_TracksChecksAndViolations(t *testing.T) {
	k := New(zap.NewNop(), false)
	k.CheckAdmissionResult(domain.AdmissionResult{Allowed: true, Parallel: 5, CurrentUsage: 90}, 100, nil)
	k.CheckAdmissionResult(domain.AdmissionResult{Allowed: true, Parallel: 50, CurrentUsage: 90}, 100, nil)

	stats := k.GetStats()
	if stats.CheckedCount != 2 {
		t.Errorf("checked_count = %d, want 2", stats.CheckedCount)
	}
	if stats.ViolationCount != 1 {
		t.Errorf("violation_count = %d, want 1", stats.ViolationCount)
	}
}

func TestKernel_StrictModePanics(t *testing.T) {
	k := New(zap.NewNop(), true)
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic in strict mode")
		}
	}()
	k.CheckAdmissionResult(domain.AdmissionResult{Allowed: true, Parallel: 50, CurrentUsage: 90}, 100, nil)
}
