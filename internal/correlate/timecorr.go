package correlate

import (
	"encoding/json"
	"math"
	"slices"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

// Series is an aligned per-service count series over fixed buckets.
type Series struct {
	Start    time.Time
	Bucket   time.Duration
	Services map[string][]float64
}

// BucketCounts bins alerts into fixed-width buckets per service,
// producing aligned series from the earliest to the latest alert. An
// empty input yields an empty series.
func BucketCounts(alerts []alert.Alert, bucket time.Duration) *Series {
	s := &Series{Bucket: bucket, Services: make(map[string][]float64)}
	if len(alerts) == 0 || bucket <= 0 {
		return s
	}

	minTS, maxTS := alerts[0].Timestamp, alerts[0].Timestamp
	for i := range alerts {
		if alerts[i].Timestamp.Before(minTS) {
			minTS = alerts[i].Timestamp
		}
		if alerts[i].Timestamp.After(maxTS) {
			maxTS = alerts[i].Timestamp
		}
	}

	s.Start = minTS.Truncate(bucket)
	n := int(maxTS.Sub(s.Start)/bucket) + 1

	for i := range alerts {
		a := &alerts[i]
		counts, ok := s.Services[a.Service]
		if !ok {
			counts = make([]float64, n)
			s.Services[a.Service] = counts
		}
		counts[int(a.Timestamp.Sub(s.Start)/bucket)]++
	}
	return s
}

// pearson computes the correlation coefficient of two equal-length
// windows. Returns NaN when either side has zero variance.
func pearson(a, b []float64) float64 {
	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varA*varB)
}

// RollingCorrelation computes the mean Pearson correlation of two
// aligned series over a sliding window of the given bucket count.
// Windows where either side is flat are skipped; if every window is
// flat the result is NaN.
func RollingCorrelation(a, b []float64, window int) float64 {
	if window < 2 || len(a) != len(b) || len(a) < window {
		return math.NaN()
	}
	var sum float64
	var count int
	for i := 0; i+window <= len(a); i++ {
		r := pearson(a[i:i+window], b[i:i+window])
		if !math.IsNaN(r) {
			sum += r
			count++
		}
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

// Matrix is a symmetric service-by-service correlation matrix.
// Undefined correlations are NaN in memory and null on the wire.
type Matrix struct {
	Services []string
	Values   [][]float64
}

// matrixJSON is the wire shape: JSON has no NaN, so undefined cells
// travel as null.
type matrixJSON struct {
	Services []string     `json:"services"`
	Values   [][]*float64 `json:"values"`
}

func (m *Matrix) MarshalJSON() ([]byte, error) {
	w := matrixJSON{Services: m.Services, Values: make([][]*float64, len(m.Values))}
	for i, row := range m.Values {
		w.Values[i] = make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				w.Values[i][j] = &m.Values[i][j]
			}
		}
	}
	return json.Marshal(w)
}

func (m *Matrix) UnmarshalJSON(data []byte) error {
	var w matrixJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Services = w.Services
	m.Values = make([][]float64, len(w.Values))
	for i, row := range w.Values {
		m.Values[i] = make([]float64, len(row))
		for j := range row {
			if row[j] == nil {
				m.Values[i][j] = math.NaN()
			} else {
				m.Values[i][j] = *row[j]
			}
		}
	}
	return nil
}

// CorrelationMatrix computes pairwise rolling correlations between every
// service's alert-count series. The window is expressed in buckets.
func CorrelationMatrix(s *Series, window int) *Matrix {
	services := sortedKeys(s.Services)
	m := &Matrix{Services: services, Values: make([][]float64, len(services))}
	for i := range services {
		m.Values[i] = make([]float64, len(services))
		for j := range services {
			if i == j {
				m.Values[i][j] = 1
				continue
			}
			if j < i {
				m.Values[i][j] = m.Values[j][i]
				continue
			}
			m.Values[i][j] = RollingCorrelation(s.Services[services[i]], s.Services[services[j]], window)
		}
	}
	return m
}

// Related returns the services whose correlation with the given service
// meets the threshold, strongest first. NaN correlations never qualify.
func (m *Matrix) Related(service string, threshold float64) []string {
	idx := slices.Index(m.Services, service)
	if idx < 0 {
		return nil
	}

	type scored struct {
		service string
		r       float64
	}
	var out []scored
	for j, other := range m.Services {
		if j == idx {
			continue
		}
		if r := m.Values[idx][j]; !math.IsNaN(r) && r >= threshold {
			out = append(out, scored{other, r})
		}
	}
	slices.SortFunc(out, func(a, b scored) int {
		switch {
		case a.r > b.r:
			return -1
		case a.r < b.r:
			return 1
		default:
			return 0
		}
	})

	services := make([]string, len(out))
	for i, s := range out {
		services[i] = s.service
	}
	return services
}
