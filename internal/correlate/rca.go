package correlate

import (
	"github.com/linnemanlabs/quell/internal/alert"
)

// RCAResult is the outcome of root-cause analysis over clustered alerts.
type RCAResult struct {
	// RootCause is the service of the most central alert, or empty when
	// no alert belongs to any cluster.
	RootCause string `json:"root_cause,omitempty"`

	// Centrality maps alert ID to its degree centrality in the cluster
	// co-membership graph, normalized to [0,1].
	Centrality map[string]float64 `json:"centrality,omitempty"`
}

// RootCause connects alerts that share a cluster into a graph and picks
// the service of the highest-degree alert as the predicted root cause.
// Noise alerts are isolated nodes and never win. Ties go to the earliest
// alert in input order, keeping the result deterministic.
func RootCause(alerts []alert.Alert, labels []int) *RCAResult {
	res := &RCAResult{Centrality: make(map[string]float64, len(alerts))}
	if len(alerts) == 0 || len(alerts) != len(labels) {
		return res
	}

	clusterSize := make(map[int]int)
	for _, l := range labels {
		if l != Noise {
			clusterSize[l]++
		}
	}

	// Every pair in a cluster is connected, so an alert's degree is its
	// cluster size minus one.
	norm := float64(len(alerts) - 1)
	best := -1
	bestDegree := 0
	for i := range alerts {
		degree := 0
		if labels[i] != Noise {
			degree = clusterSize[labels[i]] - 1
		}
		if norm > 0 {
			res.Centrality[alerts[i].ID] = float64(degree) / norm
		} else {
			res.Centrality[alerts[i].ID] = 0
		}
		if degree > bestDegree {
			bestDegree = degree
			best = i
		}
	}

	if best >= 0 {
		res.RootCause = alerts[best].Service
	}
	return res
}
