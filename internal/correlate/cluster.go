package correlate

import (
	"math"

	"github.com/linnemanlabs/quell/internal/alert"
)

// Noise is the cluster label for alerts that belong to no cluster.
const Noise = -1

// ClusterConfig tunes density clustering. Eps is the neighborhood
// radius in standardized feature space; MinPoints is the density
// threshold for a core point.
type ClusterConfig struct {
	Eps       float64
	MinPoints int
}

// DefaultClusterConfig matches the tuning the correlation analysis was
// calibrated with.
var DefaultClusterConfig = ClusterConfig{Eps: 0.5, MinPoints: 3}

// Featurize maps alerts to standardized feature vectors: event time
// plus one-hot encodings of service, type, and severity, each column
// scaled to zero mean and unit variance. Constant columns stay zero.
func Featurize(alerts []alert.Alert) [][]float64 {
	if len(alerts) == 0 {
		return nil
	}

	serviceIdx := enumerate(alerts, func(a *alert.Alert) string { return a.Service })
	typeIdx := enumerate(alerts, func(a *alert.Alert) string { return a.Type })

	const severities = 4
	dims := 1 + len(serviceIdx) + len(typeIdx) + severities

	points := make([][]float64, len(alerts))
	for i := range alerts {
		a := &alerts[i]
		v := make([]float64, dims)
		v[0] = float64(a.Timestamp.Unix())
		v[1+serviceIdx[a.Service]] = 1
		v[1+len(serviceIdx)+typeIdx[a.Type]] = 1
		v[1+len(serviceIdx)+len(typeIdx)+int(a.Severity)] = 1
		points[i] = v
	}

	standardize(points)
	return points
}

// Cluster labels each alert with a cluster ID, or Noise. It runs the
// classic density-based scan: core points (at least MinPoints neighbors
// within Eps) seed clusters that grow through density-reachable points.
func Cluster(points [][]float64, cfg ClusterConfig) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = Noise
	}

	visited := make([]bool, len(points))
	next := 0

	for i := range points {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(points, i, cfg.Eps)
		if len(neighbors) < cfg.MinPoints {
			continue
		}

		labels[i] = next
		// expand the cluster; neighbors grows as new core points are found
		for k := 0; k < len(neighbors); k++ {
			j := neighbors[k]
			if !visited[j] {
				visited[j] = true
				if jn := regionQuery(points, j, cfg.Eps); len(jn) >= cfg.MinPoints {
					neighbors = append(neighbors, jn...)
				}
			}
			if labels[j] == Noise {
				labels[j] = next
			}
		}
		next++
	}
	return labels
}

// ClusterAlerts is the convenience path: featurize then cluster.
func ClusterAlerts(alerts []alert.Alert, cfg ClusterConfig) []int {
	return Cluster(Featurize(alerts), cfg)
}

func enumerate(alerts []alert.Alert, key func(*alert.Alert) string) map[string]int {
	idx := make(map[string]int)
	for i := range alerts {
		k := key(&alerts[i])
		if _, ok := idx[k]; !ok {
			idx[k] = len(idx)
		}
	}
	return idx
}

func standardize(points [][]float64) {
	if len(points) == 0 {
		return
	}
	n := float64(len(points))
	dims := len(points[0])

	for d := 0; d < dims; d++ {
		var sum float64
		for i := range points {
			sum += points[i][d]
		}
		mean := sum / n

		var variance float64
		for i := range points {
			dv := points[i][d] - mean
			variance += dv * dv
		}
		std := math.Sqrt(variance / n)

		for i := range points {
			if std == 0 {
				points[i][d] = 0
			} else {
				points[i][d] = (points[i][d] - mean) / std
			}
		}
	}
}

func regionQuery(points [][]float64, i int, eps float64) []int {
	var neighbors []int
	for j := range points {
		if euclidean(points[i], points[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for d := range a {
		dv := a[d] - b[d]
		sum += dv * dv
	}
	return math.Sqrt(sum)
}
