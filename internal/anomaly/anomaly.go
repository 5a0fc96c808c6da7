// Package anomaly flags services whose alert volume deviates sharply
// from their own recent history. Detection uses a robust z-score over
// bucketed counts (median and median absolute deviation), so a single
// spike can't inflate the baseline it is judged against.
package anomaly

import (
	"math"
	"slices"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

// Config controls detection sensitivity.
type Config struct {
	// Bucket is the counting interval. Defaults to one hour.
	Bucket time.Duration

	// Threshold is the robust z-score above which a bucket is anomalous.
	// Defaults to 3.5, the conventional cutoff for the modified z-score.
	Threshold float64

	// MinBuckets is the minimum history a service needs before any of
	// its buckets can be flagged. Defaults to 4.
	MinBuckets int
}

func (c Config) withDefaults() Config {
	if c.Bucket <= 0 {
		c.Bucket = time.Hour
	}
	if c.Threshold <= 0 {
		c.Threshold = 3.5
	}
	if c.MinBuckets <= 0 {
		c.MinBuckets = 4
	}
	return c
}

// Anomaly is one flagged interval for a service.
type Anomaly struct {
	Service string    `json:"service"`
	Start   time.Time `json:"start"`
	Count   int       `json:"count"`
	Score   float64   `json:"score"`
}

// Detect buckets alerts per service and flags buckets whose count sits
// far outside that service's own distribution. Results are sorted by
// service then bucket start. Services with too little history are
// skipped.
func Detect(alerts []alert.Alert, cfg Config) []Anomaly {
	cfg = cfg.withDefaults()
	if len(alerts) == 0 {
		return nil
	}

	counts := bucketCounts(alerts, cfg.Bucket)

	var out []Anomaly
	for svc, buckets := range counts {
		if len(buckets) < cfg.MinBuckets {
			continue
		}

		vals := make([]float64, 0, len(buckets))
		for _, c := range buckets {
			vals = append(vals, float64(c))
		}
		med := median(vals)
		mad := medianAbsDev(vals, med)
		meanAD := meanAbsDev(vals, med)

		for start, c := range buckets {
			score := robustZ(float64(c), med, mad, meanAD)
			if score >= cfg.Threshold {
				out = append(out, Anomaly{Service: svc, Start: start, Count: c, Score: score})
			}
		}
	}

	slices.SortFunc(out, func(a, b Anomaly) int {
		if a.Service != b.Service {
			if a.Service < b.Service {
				return -1
			}
			return 1
		}
		return a.Start.Compare(b.Start)
	})
	return out
}

// bucketCounts counts alerts per service per interval. Quiet intervals
// between a service's first and last alert are kept as explicit zeros,
// so a bursty service's baseline reflects its silences too.
func bucketCounts(alerts []alert.Alert, bucket time.Duration) map[string]map[time.Time]int {
	counts := make(map[string]map[time.Time]int)
	for i := range alerts {
		svc := alerts[i].Service
		if counts[svc] == nil {
			counts[svc] = make(map[time.Time]int)
		}
		counts[svc][alerts[i].Timestamp.Truncate(bucket)]++
	}

	for _, buckets := range counts {
		var first, last time.Time
		for start := range buckets {
			if first.IsZero() || start.Before(first) {
				first = start
			}
			if start.After(last) {
				last = start
			}
		}
		for t := first.Add(bucket); t.Before(last); t = t.Add(bucket) {
			if _, ok := buckets[t]; !ok {
				buckets[t] = 0
			}
		}
	}
	return counts
}

// robustZ is the modified z-score of v. When the MAD collapses to zero
// (more than half the buckets share one count) it falls back to the
// mean absolute deviation; if that is zero too every count is identical
// and nothing is anomalous.
func robustZ(v, med, mad, meanAD float64) float64 {
	switch {
	case mad > 0:
		return 0.6745 * math.Abs(v-med) / mad
	case meanAD > 0:
		return 0.7979 * math.Abs(v-med) / meanAD
	default:
		return 0
	}
}

func median(vals []float64) float64 {
	s := slices.Clone(vals)
	slices.Sort(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func medianAbsDev(vals []float64, med float64) float64 {
	dev := make([]float64, len(vals))
	for i, v := range vals {
		dev[i] = math.Abs(v - med)
	}
	return median(dev)
}

func meanAbsDev(vals []float64, med float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += math.Abs(v - med)
	}
	return sum / float64(len(vals))
}
