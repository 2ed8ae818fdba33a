package pattern

import (
	"math"
	"testing"
	"time"

	"github.com/dataplatform/admissionctl/internal/domain"
)

func daySeries(costs []float64, startWeekday time.Weekday) domain.ServiceCostSeries {
	ts := make([]time.Time, len(costs))
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) // a Monday
	for int(base.Weekday()) != int(startWeekday) {
		base = base.AddDate(0, 0, 1)
	}
	for i := range costs {
		ts[i] = base.AddDate(0, 0, i)
	}
	return domain.ServiceCostSeries{Timestamps: ts, Costs: costs}
}

func TestTrendRecognizer_RampWithinProjection(t *testing.T) {
	// 14-day linear ramp: 100000 + 5000*i, target within 15% of projection.
	costs := make([]float64, 14)
	for i := range costs {
		costs[i] = 100000 + 5000*float64(i)
	}
	costs[13] = 168000 // target, spec.md seed scenario S5
	series := daySeries(costs, time.Monday)

	r := TrendRecognizer{}
	ctx, ok := r.Recognize(series)
	if !ok {
		t.Fatalf("expected trend recognition, got none")
	}
	if ctx.ConfidenceAdjustment != TrendAdjustment {
		t.Errorf("adjustment = %v, want %v", ctx.ConfidenceAdjustment, TrendAdjustment)
	}
}

func TestTrendRecognizer_InsufficientData(t *testing.T) {
	series := daySeries([]float64{1, 2, 3}, time.Monday)
	if _, ok := (TrendRecognizer{}).Recognize(series); ok {
		t.Errorf("expected no recognition with < 7 samples")
	}
}

func TestDayOfWeekRecognizer_WithinTolerance(t *testing.T) {
	// 8 consecutive days from a Monday; the last one (a Monday) is within
	// 30% of the mean of the earlier weekdays.
	costs := []float64{100, 102, 98, 101, 99, 103, 100, 101}
	series := daySeries(costs, time.Monday)
	r := DayOfWeekRecognizer{}
	ctx, ok := r.Recognize(series)
	if !ok {
		t.Fatalf("expected recognition")
	}
	if ctx.ConfidenceAdjustment != WeekdayAdjustment {
		t.Errorf("adjustment = %v, want %v", ctx.ConfidenceAdjustment, WeekdayAdjustment)
	}
}

func TestChain_TotalAdjustmentClampedAtFloor(t *testing.T) {
	c := NewChain([]Recognizer{
		fixedRecognizer{adj: -0.3},
		fixedRecognizer{adj: -0.3},
	}, -0.4, nil)
	series := daySeries(make([]float64, 7), time.Monday)
	got := c.TotalAdjustment(series)
	if got != -0.4 {
		t.Errorf("TotalAdjustment = %v, want -0.4 (floor)", got)
	}
}

func TestChain_RecoversFromPanickingRecognizer(t *testing.T) {
	c := NewChain([]Recognizer{panicRecognizer{}, fixedRecognizer{adj: -0.1}}, -0.4, nil)
	series := daySeries(make([]float64, 7), time.Monday)
	got := c.TotalAdjustment(series)
	if math.Abs(got-(-0.1)) > 1e-9 {
		t.Errorf("TotalAdjustment = %v, want -0.1 (panicking recognizer skipped)", got)
	}
}

type fixedRecognizer struct{ adj float64 }

func (f fixedRecognizer) Recognize(domain.ServiceCostSeries) (domain.PatternContext, bool) {
	return domain.PatternContext{ConfidenceAdjustment: f.adj}, true
}

type panicRecognizer struct{}

func (panicRecognizer) Recognize(domain.ServiceCostSeries) (domain.PatternContext, bool) {
	panic("boom")
}
