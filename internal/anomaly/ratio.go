package anomaly

import (
	"math"

	"github.com/dataplatform/admissionctl/contrib"
)

// RatioThreshold is the default increase threshold (50%).
const RatioThreshold = 0.5

// RatioDecreaseThreshold is the default decrease threshold (30%).
const RatioDecreaseThreshold = 0.3

// ratioDetector compares the target observation against the immediately
// preceding one. Grounded on cost_anomaly_detector.py's
// _detect_ratio_anomaly.
type ratioDetector struct {
	increaseThreshold float64
	decreaseThreshold float64
}

func init() {
	contrib.RegisterDetector(&ratioDetector{
		increaseThreshold: RatioThreshold,
		decreaseThreshold: RatioDecreaseThreshold,
	})
}

func (d *ratioDetector) Name() string { return "ratio" }

func (d *ratioDetector) Detect(req contrib.DetectRequest) (contrib.Outcome, error) {
	n := len(req.Series)
	if n < 2 {
		return contrib.Outcome{Details: map[string]interface{}{"reason": "insufficient_data"}}, nil
	}
	target := cleanNaN(req.Series[n-1])
	previous := cleanNaN(req.Series[n-2])

	// previous <= 0 is an intentional special case (spec.md §4.5 / §9):
	// surfaces "from-zero" escalations as a medium (0.5), not a full score.
	if previous <= 0 {
		if target > 0 {
			return contrib.Outcome{
				Detected: true,
				Score:    0.5,
				Details:  map[string]interface{}{"reason": "previous_cost_zero", "current": target},
			}, nil
		}
		return contrib.Outcome{Details: map[string]interface{}{"reason": "previous_cost_zero", "current": target}}, nil
	}

	ratio := (target - previous) / previous

	if ratio >= d.increaseThreshold {
		score := math.Min(1.0, ratio/(d.increaseThreshold*2))
		return contrib.Outcome{
			Detected: true,
			Score:    score,
			Details: map[string]interface{}{
				"change_ratio": ratio,
				"threshold":    d.increaseThreshold,
				"direction":    "increase",
			},
		}, nil
	}

	if ratio <= -d.decreaseThreshold {
		score := math.Min(1.0, math.Abs(ratio)/(d.decreaseThreshold*2))
		return contrib.Outcome{
			Detected: true,
			Score:    score,
			Details: map[string]interface{}{
				"change_ratio": ratio,
				"threshold":    -d.decreaseThreshold,
				"direction":    "decrease",
			},
		}, nil
	}

	return contrib.Outcome{Details: map[string]interface{}{"change_ratio": ratio}}, nil
}

// cleanNaN treats NaN inputs as 0, per spec.md §4.5's numeric semantics.
func cleanNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
