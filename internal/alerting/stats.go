package alerting

import (
	"strconv"
	"time"
)

// Statistics is a point-in-time aggregate over the live alert set.
// It is recomputed on demand rather than streamed, so it can never drift
// from the alerts it summarizes.
type Statistics struct {
	Total                int              `json:"total"`
	ByStatus             map[Status]int   `json:"by_status"`
	BySeverity           map[Severity]int `json:"by_severity"`
	ByCategory           map[string]int   `json:"by_category"`
	MeanResolutionMillis float64          `json:"mean_resolution_ms"`
	GeneratedAt          time.Time        `json:"generated_at"`
}

// Statistics computes current aggregate counters from the manager's alerts.
func (m *Manager) Statistics() Statistics {
	stats := Statistics{
		ByStatus:    make(map[Status]int),
		BySeverity:  make(map[Severity]int),
		ByCategory:  make(map[string]int),
		GeneratedAt: m.now().UTC(),
	}

	var resolutionTotal int64
	var resolutionCount int

	for _, alert := range m.All() {
		stats.Total++
		stats.ByStatus[alert.Status]++
		stats.BySeverity[alert.Severity]++
		if alert.Category != "" {
			stats.ByCategory[alert.Category]++
		}

		if alert.Status != StatusResolved {
			continue
		}
		raw, ok := alert.Metadata[MetadataResolutionMillis]
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		resolutionTotal += ms
		resolutionCount++
	}

	if resolutionCount > 0 {
		stats.MeanResolutionMillis = float64(resolutionTotal) / float64(resolutionCount)
	}
	return stats
}
