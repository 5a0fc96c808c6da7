// Package priority ranks services by how much high-severity alert
// traffic they produce, so responders know where to look first.
package priority

import (
	"slices"

	"github.com/linnemanlabs/quell/internal/alert"
)

// severity weights for scoring; critical alerts dominate the ranking.
var weights = map[alert.Severity]float64{
	alert.SeverityLow:      1,
	alert.SeverityMedium:   2,
	alert.SeverityHigh:     4,
	alert.SeverityCritical: 8,
}

// Heatmap counts alerts per service and severity.
type Heatmap struct {
	// Services in descending score order.
	Services []string `json:"services"`

	// Counts maps service to per-severity alert counts, keyed by the
	// severity's string form.
	Counts map[string]map[string]int `json:"counts"`
}

// ServiceScore is a service's weighted alert volume.
type ServiceScore struct {
	Service string  `json:"service"`
	Score   float64 `json:"score"`
	Total   int     `json:"total"`
}

// Rank scores every service by severity-weighted alert count and
// returns them highest first. Ties break alphabetically so the order is
// stable across runs.
func Rank(alerts []alert.Alert) []ServiceScore {
	totals := make(map[string]int)
	scores := make(map[string]float64)
	for i := range alerts {
		totals[alerts[i].Service]++
		scores[alerts[i].Service] += weights[alerts[i].Severity]
	}

	out := make([]ServiceScore, 0, len(scores))
	for svc, score := range scores {
		out = append(out, ServiceScore{Service: svc, Score: score, Total: totals[svc]})
	}
	slices.SortFunc(out, func(a, b ServiceScore) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		if a.Service < b.Service {
			return -1
		}
		if a.Service > b.Service {
			return 1
		}
		return 0
	})
	return out
}

// Build computes the service/severity heatmap for a batch of alerts.
// Services appear in the same order Rank would put them in.
func Build(alerts []alert.Alert) *Heatmap {
	hm := &Heatmap{Counts: make(map[string]map[string]int)}
	for i := range alerts {
		svc := alerts[i].Service
		if hm.Counts[svc] == nil {
			hm.Counts[svc] = make(map[string]int)
		}
		hm.Counts[svc][alerts[i].Severity.String()]++
	}
	for _, s := range Rank(alerts) {
		hm.Services = append(hm.Services, s.Service)
	}
	return hm
}
