package anomaly

import (
	"math"

	"github.com/dataplatform/admissionctl/contrib"
)

// TrendConsecutiveDays is the default run length required (3 days).
const TrendConsecutiveDays = 3

// TrendMinIncreaseRate is the default minimum day-over-day rate (5%).
const TrendMinIncreaseRate = 0.05

// trendDetector scans backward from the target counting consecutive
// day-over-day increases at or above minRate. Grounded on
// cost_anomaly_detector.py's _detect_trend_anomaly, matching its backward
// scan boundary exactly (spec.md §9 open question: do not guess intent).
type trendDetector struct {
	requiredDays int
	minRate      float64
}

func init() {
	contrib.RegisterDetector(&trendDetector{
		requiredDays: TrendConsecutiveDays,
		minRate:      TrendMinIncreaseRate,
	})
}

func (d *trendDetector) Name() string { return "trend" }

func (d *trendDetector) Detect(req contrib.DetectRequest) (contrib.Outcome, error) {
	costs := cleanSeries(req.Series)
	targetIdx := len(costs) - 1
	if targetIdx < d.requiredDays {
		return contrib.Outcome{Details: map[string]interface{}{"reason": "insufficient_data_for_trend"}}, nil
	}

	consecutive := 0
	var rates []float64

	// Matches the original's range(target_idx, max(0, target_idx-required), -1)
	// inclusive scan, breaking the moment a transition misses minRate.
	stop := targetIdx - d.requiredDays
	if stop < 0 {
		stop = 0
	}
	for i := targetIdx; i > stop; i-- {
		if i == 0 {
			break
		}
		current := costs[i]
		previous := costs[i-1]
		if previous <= 0 {
			break
		}
		rate := (current - previous) / previous
		if rate < d.minRate {
			break
		}
		consecutive++
		rates = append(rates, rate)
	}

	if consecutive < d.requiredDays {
		return contrib.Outcome{Details: map[string]interface{}{
			"consecutive_days": consecutive,
			"required_days":    d.requiredDays,
		}}, nil
	}

	avgRate := 0.0
	for _, r := range rates {
		avgRate += r
	}
	if len(rates) > 0 {
		avgRate /= float64(len(rates))
	}

	daysFactor := math.Min(1.0, float64(consecutive)/float64(d.requiredDays*2))
	rateFactor := math.Min(1.0, avgRate/(d.minRate*3))
	score := (daysFactor + rateFactor) / 2

	return contrib.Outcome{
		Detected: true,
		Score:    score,
		Details: map[string]interface{}{
			"consecutive_days":     consecutive,
			"average_increase_rate": avgRate,
			"increase_rates":        rates,
		},
	}, nil
}
