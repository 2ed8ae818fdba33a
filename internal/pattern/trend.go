package pattern

import (
	"fmt"
	"math"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// TrendAdjustment is the confidence attenuation applied when the latest
// observation falls within the historical trend line's projection.
const TrendAdjustment = -0.15

// TrendDeviationThreshold is the maximum fractional deviation from the
// trend projection still treated as benign growth.
const TrendDeviationThreshold = 0.15

// TrendRecognizer fits a least-squares line over the historical samples
// (every sample but the latest) and checks whether the latest sample falls
// within TrendDeviationThreshold of the line's projection. Grounded on
// pattern_recognizers.py's TrendRecognizer (numpy.polyfit degree 1).
type TrendRecognizer struct{}

func (TrendRecognizer) Recognize(series domain.ServiceCostSeries) (domain.PatternContext, bool) {
	n := len(series.Costs)
	if n < 7 {
		return domain.PatternContext{}, false
	}
	history := series.Costs[:n-1]
	actual := series.Costs[n-1]

	slope, intercept, ok := leastSquares(history)
	if !ok {
		return domain.PatternContext{}, false
	}

	expected := slope*float64(len(history)) + intercept
	if expected <= 0 {
		return domain.PatternContext{}, false
	}

	deviation := math.Abs(actual-expected) / expected
	if deviation > TrendDeviationThreshold {
		return domain.PatternContext{}, false
	}

	return domain.PatternContext{
		PatternType:          domain.PatternTrend,
		ExpectedValue:        expected,
		ActualValue:          actual,
		ConfidenceAdjustment: TrendAdjustment,
		Explanation:          fmt.Sprintf("within trend projection (deviation: %.1f%%)", deviation*100),
	}, true
}

// leastSquares fits y = slope*x + intercept over x = 0..len(y)-1.
// ok is false on a degenerate fit (fewer than 2 points, or zero x-variance).
func leastSquares(y []float64) (slope, intercept float64, ok bool) {
	m := len(y)
	if m < 2 {
		return 0, 0, false
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}
	denom := float64(m)*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}
	slope = (float64(m)*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / float64(m)
	return slope, intercept, true
}
