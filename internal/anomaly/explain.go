package anomaly

import (
	"fmt"
	"strings"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// Explain renders a one-paragraph, human-readable rationale for a detection
// result: which detectors fired, the raw and attenuated confidence, and any
// recognized benign patterns that suppressed it. Supplements the original
// source's ad-hoc logging/print statements with a single reusable renderer.
func Explain(series domain.ServiceCostSeries, record domain.AnomalyRecord) string {
	var b strings.Builder

	name := series.ServiceName
	if name == "" {
		name = "service"
	}
	fmt.Fprintf(&b, "%s: raw confidence %.3f, attenuated to %.3f (%s)",
		name, record.RawConfidence, record.Confidence, record.Severity)

	if fired := firedDetectors(record); len(fired) > 0 {
		fmt.Fprintf(&b, "; triggered by %s", strings.Join(fired, ", "))
	} else {
		b.WriteString("; no individual detector crossed its threshold")
	}

	if len(record.PatternContexts) > 0 {
		explanations := make([]string, len(record.PatternContexts))
		for i, ctx := range record.PatternContexts {
			explanations[i] = fmt.Sprintf("%s (%s, adjustment %.2f)", ctx.PatternType, ctx.Explanation, ctx.ConfidenceAdjustment)
		}
		fmt.Fprintf(&b, "; attenuated by: %s", strings.Join(explanations, "; "))
	}

	return b.String()
}

func firedDetectors(record domain.AnomalyRecord) []string {
	var fired []string
	for _, name := range []string{"ratio", "zscore", "trend"} {
		details, ok := record.Details[name].(map[string]interface{})
		if !ok {
			continue
		}
		if detected, _ := details["detected"].(bool); detected {
			fired = append(fired, name)
		}
	}
	return fired
}
