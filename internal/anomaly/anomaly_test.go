package anomaly

import (
	"testing"
	"time"

	"github.com/dataplatform/admissionctl/internal/domain"
	"github.com/dataplatform/admissionctl/internal/pattern"
)

func costSeries(costs ...float64) domain.ServiceCostSeries {
	return domain.ServiceCostSeries{ServiceName: "test-service", Costs: costs}
}

func TestCombiner_RatioSpike(t *testing.T) {
	// spec.md seed scenario S4: flat history, then a >50% jump.
	c := NewCombiner(nil)
	series := costSeries(100, 101, 99, 100, 102, 98, 160)
	record, err := c.Detect(series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !record.IsAnomaly {
		t.Fatalf("expected anomaly for a 60%% jump, got %+v", record)
	}
	if record.Severity < domain.SeverityMedium {
		t.Errorf("severity = %s, want at least medium", record.Severity)
	}
}

func TestCombiner_PatternAttenuationSuppresses(t *testing.T) {
	// A steady ramp whose final point (140) trips the z-score detector
	// (raw confidence 0.257) but sits within 15% of the ramp's trend
	// projection (130), so the trend recognizer attenuates it (to 0.107).
	costs := make([]float64, 7)
	for i := range costs {
		costs[i] = 100 + 5*float64(i)
	}
	costs[len(costs)-1] = 140
	unattenuated := NewCombiner(nil)
	series := costSeries(costs...)
	base, err := unattenuated.Detect(series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	chain := pattern.NewDefaultChain(pattern.DefaultMaxAdjustment, nil)
	attenuated := NewCombiner(chain)
	withPattern, err := attenuated.Detect(series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if withPattern.Confidence > base.Confidence {
		t.Errorf("attenuated confidence %v should not exceed unattenuated %v", withPattern.Confidence, base.Confidence)
	}
}

func TestCombiner_FlatSeriesIsNotAnomalous(t *testing.T) {
	c := NewCombiner(nil)
	series := costSeries(100, 101, 99, 100, 100, 99, 101)
	record, err := c.Detect(series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if record.IsAnomaly {
		t.Errorf("expected no anomaly for a flat series, got %+v", record)
	}
	if record.Severity != domain.SeverityLow {
		t.Errorf("severity = %s, want low", record.Severity)
	}
}

func TestCombiner_FromZeroEscalationIsMedium(t *testing.T) {
	// spec.md §4.5: previous<=0 branch always scores 0.5 on the ratio
	// detector alone, never the full weight.
	c := NewCombiner(nil)
	series := costSeries(0, 500)
	record, err := c.Detect(series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	wantRaw := round3(weightRatio * 0.5)
	if record.RawConfidence != wantRaw {
		t.Errorf("raw_confidence = %v, want %v", record.RawConfidence, wantRaw)
	}
}

func TestExplain_MentionsFiredDetectors(t *testing.T) {
	c := NewCombiner(nil)
	series := costSeries(100, 101, 99, 100, 102, 98, 160)
	record, err := c.Detect(series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	explanation := Explain(series, record)
	if explanation == "" {
		t.Error("expected a non-empty explanation")
	}
}

func TestDetect_SignatureStableAcrossRepeatedCalls(t *testing.T) {
	c := NewCombiner(nil)
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	series := domain.ServiceCostSeries{
		ServiceName: "billing",
		AccountID:   "acct-1",
		Timestamps:  []time.Time{now.AddDate(0, 0, -6), now},
		Costs:       []float64{100, 101},
	}

	first, err := c.Detect(series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	second, err := c.Detect(series)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if first.Signature == "" {
		t.Fatal("expected a non-empty signature")
	}
	if first.Signature != second.Signature {
		t.Errorf("signature changed across identical calls: %q vs %q", first.Signature, second.Signature)
	}
	if !first.FirstSeen.Equal(series.Timestamps[0]) {
		t.Errorf("FirstSeen = %v, want %v", first.FirstSeen, series.Timestamps[0])
	}
	if !first.LastSeen.Equal(series.Timestamps[1]) {
		t.Errorf("LastSeen = %v, want %v", first.LastSeen, series.Timestamps[1])
	}

	other := series
	other.ServiceName = "payments"
	otherRecord, err := c.Detect(other)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if otherRecord.Signature == first.Signature {
		t.Errorf("expected distinct signatures for distinct services, both got %q", first.Signature)
	}
}

func TestDetectAll_ReturnsOnlyAnomalous(t *testing.T) {
	c := NewCombiner(nil)
	flat := costSeries(100, 101, 99, 100, 100, 99, 101)
	spike := costSeries(100, 101, 99, 100, 102, 98, 200)
	results, err := c.DetectAll([]domain.ServiceCostSeries{flat, spike})
	if err != nil {
		t.Fatalf("DetectAll: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 anomalous series, got %d", len(results))
	}
	if results[0].Series.ServiceName != "test-service" {
		t.Errorf("unexpected result series: %+v", results[0].Series)
	}
}
