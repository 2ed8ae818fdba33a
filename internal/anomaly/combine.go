// Package anomaly implements the ensemble cost-anomaly detector (spec.md
// §4.5): three independent statistical detectors (internal/anomaly's ratio,
// zscore, trend), combined by a fixed weighted sum and attenuated by the
// internal/pattern recognizer chain, yielding a confidence and a severity.
//
// Grounded structurally on the deleted octoreflex internal/escalation's
// severity-computation shape; weights and formulas from
// original_source/examples/services/cost_anomaly_detector.py.
package anomaly

import (
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/dataplatform/admissionctl/contrib"
	"github.com/dataplatform/admissionctl/internal/domain"
	"github.com/dataplatform/admissionctl/internal/pattern"
)

// Ensemble weights (spec.md §4.5 Combination).
const (
	weightRatio  = 0.40
	weightZScore = 0.35
	weightTrend  = 0.25

	// anomalyThreshold is the raw_confidence floor, independent of the
	// detector-agreement rule, for is_anomaly.
	anomalyThreshold = 0.6

	severityCriticalConfidence = 0.8
	severityHighConfidence     = 0.65
	severityMediumConfidence   = 0.5
	// criticalChangeRatio is the compound critical condition's change-ratio
	// floor (paired with >=2 detectors agreeing).
	criticalChangeRatio = 1.0
)

// Combiner runs the three built-in detectors plus a pattern chain over a
// cost series and produces an AnomalyRecord.
type Combiner struct {
	chain *pattern.Chain
}

// NewCombiner builds a Combiner with the given pattern chain. A nil chain
// disables attenuation (PATTERN_RECOGNITION=false, spec.md §6).
func NewCombiner(chain *pattern.Chain) *Combiner {
	return &Combiner{chain: chain}
}

// detectorOutcome pairs a registered detector's name with its outcome, used
// both for the weighted sum and for surfacing per-detector details.
type detectorOutcome struct {
	name    string
	outcome contrib.Outcome
}

// Detect runs the ratio, zscore, and trend detectors against series.Costs
// and combines them into a single AnomalyRecord. series must have at least
// 2 points; detectors with insufficient history simply abstain (Detected
// stays false and contributes a zero score).
func (c *Combiner) Detect(series domain.ServiceCostSeries) (domain.AnomalyRecord, error) {
	req := contrib.DetectRequest{Series: series.Costs}

	outcomes := make([]detectorOutcome, 0, 3)
	for _, name := range []string{"ratio", "zscore", "trend"} {
		d, err := contrib.GetDetector(name)
		if err != nil {
			return domain.AnomalyRecord{}, err
		}
		out, err := d.Detect(req)
		if err != nil {
			return domain.AnomalyRecord{}, err
		}
		outcomes = append(outcomes, detectorOutcome{name: name, outcome: out})
	}

	scores := make(map[string]float64, 3)
	details := make(map[string]interface{}, 3)
	detectedCount := 0
	for _, o := range outcomes {
		scores[o.name] = o.outcome.Score
		d := o.outcome.Details
		if d == nil {
			d = map[string]interface{}{}
		}
		d["detected"] = o.outcome.Detected
		details[o.name] = d
		if o.outcome.Detected {
			detectedCount++
		}
	}

	rawConfidence := clamp01(weightRatio*scores["ratio"] + weightZScore*scores["zscore"] + weightTrend*scores["trend"])
	rawConfidence = round3(rawConfidence)

	var attenuation float64
	var patternContexts []domain.PatternContext
	if c.chain != nil {
		attenuation = c.chain.TotalAdjustment(series)
		patternContexts = c.chain.RecognizeAll(series)
	}
	confidence := clamp01(rawConfidence + attenuation)

	isAnomaly := detectedCount >= 2 || rawConfidence > anomalyThreshold

	changeRatio, _ := ratioDetails(outcomes).changeRatio()
	severity := severityOf(confidence, detectedCount, changeRatio)

	anomalyType := domain.AnomalyRatio
	if detectedCount > 1 {
		anomalyType = domain.AnomalyCombined
	} else if detectedCount == 1 {
		anomalyType = detectorAnomalyType(outcomes)
	}

	firstSeen, lastSeen := windowBounds(series)
	record := domain.AnomalyRecord{
		Signature:       signatureOf(series, firstSeen, lastSeen),
		AnomalyType:     anomalyType,
		IsAnomaly:       isAnomaly,
		Confidence:      confidence,
		RawConfidence:   rawConfidence,
		Details:         details,
		PatternContexts: patternContexts,
		FirstSeen:       firstSeen,
		LastSeen:        lastSeen,
	}
	// severity comes from severityOf alone (the confidence ladder plus the
	// compound critical rule on detector count and change ratio); it is not
	// re-gated on isAnomaly here.
	record.Severity = severity
	if record.IsAnomaly {
		record.Details["analysis"] = Explain(series, record)
	}
	return record, nil
}

// severityOf implements spec.md §4.5's severity ladder on the attenuated
// confidence, with the compound critical override.
func severityOf(confidence float64, detectedCount int, changeRatio float64) domain.Severity {
	if confidence >= severityCriticalConfidence {
		return domain.SeverityCritical
	}
	if detectedCount >= 2 && changeRatio >= criticalChangeRatio {
		return domain.SeverityCritical
	}
	switch {
	case confidence >= severityHighConfidence:
		return domain.SeverityHigh
	case confidence >= severityMediumConfidence:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func detectorAnomalyType(outcomes []detectorOutcome) domain.AnomalyType {
	for _, o := range outcomes {
		if !o.outcome.Detected {
			continue
		}
		switch o.name {
		case "ratio":
			return domain.AnomalyRatio
		case "zscore":
			return domain.AnomalyStddev
		case "trend":
			return domain.AnomalyTrend
		}
	}
	return domain.AnomalyRatio
}

// windowBounds returns the series' first and last sample timestamps, or the
// zero time for an empty series.
func windowBounds(series domain.ServiceCostSeries) (time.Time, time.Time) {
	if len(series.Timestamps) == 0 {
		return time.Time{}, time.Time{}
	}
	return series.Timestamps[0], series.Timestamps[len(series.Timestamps)-1]
}

// signatureOf builds the stable "hash of service + window" signature
// (spec.md §3): an fnv-1a digest of the service name and window bounds, so
// the same service scored over the same window always yields the same
// signature regardless of detector outcome.
func signatureOf(series domain.ServiceCostSeries, firstSeen, lastSeen time.Time) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%d", series.ServiceName, series.AccountID, firstSeen.UnixNano(), lastSeen.UnixNano())
	return fmt.Sprintf("%s-%x", series.ServiceName, h.Sum64())
}

type ratioDetailsView []detectorOutcome

func ratioDetails(outcomes []detectorOutcome) ratioDetailsView { return outcomes }

// changeRatio extracts the ratio detector's change_ratio detail, used only
// by the compound critical-severity rule. Returns (0, false) if the ratio
// detector did not run or did not report one (e.g. the previous<=0 branch).
func (v ratioDetailsView) changeRatio() (float64, bool) {
	for _, o := range v {
		if o.name != "ratio" {
			continue
		}
		cr, ok := o.outcome.Details["change_ratio"].(float64)
		return cr, ok
	}
	return 0, false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
