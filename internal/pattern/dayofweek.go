package pattern

import (
	"time"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// WeekdayAdjustment is the confidence attenuation applied when the latest
// observation falls within its day-type's normal range.
const WeekdayAdjustment = -0.20

// DayOfWeekTolerance is the +/- band around the same-day-type mean treated
// as normal.
const DayOfWeekTolerance = 0.30

// DayOfWeekRecognizer partitions historical samples by weekend/weekday
// (relative to the latest sample's timestamp) and checks whether the
// latest value falls within a tolerance band of the same-partition mean.
// Requires at least 7 samples and at least 2 same-partition historical
// points. Grounded on pattern_recognizers.py's DayOfWeekRecognizer.
type DayOfWeekRecognizer struct{}

func (DayOfWeekRecognizer) Recognize(series domain.ServiceCostSeries) (domain.PatternContext, bool) {
	n := len(series.Costs)
	if n < 7 || len(series.Timestamps) != n {
		return domain.PatternContext{}, false
	}

	isWeekend := weekday(series.Timestamps[n-1])

	var sameType []float64
	for i := 0; i < n-1; i++ {
		if weekday(series.Timestamps[i]) == isWeekend {
			sameType = append(sameType, series.Costs[i])
		}
	}
	if len(sameType) < 2 {
		return domain.PatternContext{}, false
	}

	expected := meanOf(sameType)
	actual := series.Costs[n-1]
	if expected <= 0 {
		return domain.PatternContext{}, false
	}

	ratio := actual / expected
	lower := 1 - DayOfWeekTolerance
	upper := 1 + DayOfWeekTolerance
	if ratio < lower || ratio > upper {
		return domain.PatternContext{}, false
	}

	dayType := "weekday"
	if isWeekend {
		dayType = "weekend"
	}
	return domain.PatternContext{
		PatternType:          domain.PatternDayOfWeek,
		ExpectedValue:        expected,
		ActualValue:          actual,
		ConfidenceAdjustment: WeekdayAdjustment,
		Explanation:          "within normal " + dayType + " average range",
	}, true
}

func weekday(t time.Time) bool {
	d := t.Weekday()
	return d == time.Saturday || d == time.Sunday
}

func meanOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
