package anomaly

import (
	"sort"

	"github.com/dataplatform/admissionctl/internal/domain"
)

// ServiceResult pairs a detection result with the series it came from, so
// callers can report which service/account triggered it.
type ServiceResult struct {
	Series domain.ServiceCostSeries
	Record domain.AnomalyRecord
}

// DetectAll runs the combiner over every series and returns only the
// anomalous ones (records whose IsAnomaly was set true by Detect),
// sorted by severity descending, then by confidence descending. A single
// series failing to detect (e.g. a misconfigured custom contrib detector)
// aborts the whole batch, matching the "don't silently drop a service"
// policy of the original report generator.
func (c *Combiner) DetectAll(series []domain.ServiceCostSeries) ([]ServiceResult, error) {
	results := make([]ServiceResult, 0, len(series))
	for _, s := range series {
		record, err := c.Detect(s)
		if err != nil {
			return nil, err
		}
		results = append(results, ServiceResult{Series: s, Record: record})
	}

	anomalous := results[:0:0]
	for _, r := range results {
		if r.Record.IsAnomaly {
			anomalous = append(anomalous, r)
		}
	}

	sort.SliceStable(anomalous, func(i, j int) bool {
		si, sj := anomalous[i].Record.Severity, anomalous[j].Record.Severity
		if si != sj {
			return si > sj
		}
		return anomalous[i].Record.Confidence > anomalous[j].Record.Confidence
	})
	return anomalous, nil
}
