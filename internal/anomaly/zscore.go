package anomaly

import (
	"math"

	"github.com/dataplatform/admissionctl/contrib"
)

// StddevMultiplier is the default robust z-score threshold (2 sigma).
const StddevMultiplier = 2.0

// zscoreDetector compares the target against the mean/stddev of every
// preceding observation. Grounded on cost_anomaly_detector.py's
// _detect_stddev_anomaly; requires spec.md §4.5's |history| >= 3.
type zscoreDetector struct {
	multiplier float64
}

func init() {
	contrib.RegisterDetector(&zscoreDetector{multiplier: StddevMultiplier})
}

func (d *zscoreDetector) Name() string { return "zscore" }

func (d *zscoreDetector) Detect(req contrib.DetectRequest) (contrib.Outcome, error) {
	n := len(req.Series)
	if n < 2 {
		return contrib.Outcome{Details: map[string]interface{}{"reason": "insufficient_data"}}, nil
	}
	target := cleanNaN(req.Series[n-1])
	history := cleanSeries(req.Series[:n-1])

	if len(history) < 3 {
		return contrib.Outcome{Details: map[string]interface{}{"reason": "insufficient_historical_data"}}, nil
	}

	mean := meanOf(history)
	stdev := sampleStddev(history, mean)
	if stdev == 0 {
		return contrib.Outcome{Details: map[string]interface{}{"reason": "zero_stdev", "mean": mean}}, nil
	}

	z := (target - mean) / stdev

	if math.Abs(z) >= d.multiplier {
		score := math.Min(1.0, math.Abs(z)/(d.multiplier*2))
		direction := "above"
		if z < 0 {
			direction = "below"
		}
		return contrib.Outcome{
			Detected: true,
			Score:    score,
			Details: map[string]interface{}{
				"z_score":   z,
				"mean":      mean,
				"stdev":     stdev,
				"threshold": d.multiplier,
				"direction": direction,
			},
		}, nil
	}

	return contrib.Outcome{Details: map[string]interface{}{"z_score": z, "mean": mean, "stdev": stdev}}, nil
}

func cleanSeries(series []float64) []float64 {
	out := make([]float64, len(series))
	for i, v := range series {
		out[i] = cleanNaN(v)
	}
	return out
}

func meanOf(series []float64) float64 {
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// sampleStddev is the sample (n-1 denominator) standard deviation, matching
// Python's statistics.stdev.
func sampleStddev(series []float64, mean float64) float64 {
	if len(series) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range series {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(series)-1))
}
