// Package series collapses raw health data points into daily series for
// the detectors, attribution, and evaluation. All day bucketing is UTC.
package series

import (
	"sort"
	"time"

	"vitalis/internal/types"
)

// Day truncates a timestamp to midnight UTC.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyValue is one day's aggregate for a metric.
type DailyValue struct {
	Date  time.Time
	Value float64
	N     int
}

// Aggregate collapses points into per-day values using the metric's
// aggregation rule (mean or sum). Days with no points are absent from the
// result; output is sorted ascending by date.
func Aggregate(points []types.HealthDataPoint, agg types.Aggregation) []DailyValue {
	type bucket struct {
		sum float64
		n   int
	}
	buckets := make(map[time.Time]*bucket)
	for _, p := range points {
		d := Day(p.Timestamp)
		b := buckets[d]
		if b == nil {
			b = &bucket{}
			buckets[d] = b
		}
		b.sum += p.Value
		b.n++
	}

	out := make([]DailyValue, 0, len(buckets))
	for d, b := range buckets {
		v := b.sum
		if agg == types.AggregateMean {
			v = b.sum / float64(b.n)
		}
		out = append(out, DailyValue{Date: d, Value: v, N: b.n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Values extracts the value column.
func Values(daily []DailyValue) []float64 {
	out := make([]float64, len(daily))
	for i, d := range daily {
		out[i] = d.Value
	}
	return out
}

// ToMap indexes daily values by date.
func ToMap(daily []DailyValue) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(daily))
	for _, d := range daily {
		out[d.Date] = d.Value
	}
	return out
}

// AlignDays lays a daily map out over [start, end) as a dense slice, one
// entry per day. Missing days are linearly interpolated between nearest
// present neighbors; days outside the observed span stay absent (ok=false).
func AlignDays(byDay map[time.Time]float64, start, end time.Time) (values []float64, present []bool) {
	start, end = Day(start), Day(end)
	n := int(end.Sub(start).Hours() / 24)
	if n <= 0 {
		return nil, nil
	}
	values = make([]float64, n)
	present = make([]bool, n)
	for i := 0; i < n; i++ {
		d := start.AddDate(0, 0, i)
		if v, ok := byDay[d]; ok {
			values[i] = v
			present[i] = true
		}
	}

	// Interpolate interior gaps only.
	prev := -1
	for i := 0; i < n; i++ {
		if !present[i] {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			span := float64(i - prev)
			for j := prev + 1; j < i; j++ {
				frac := float64(j-prev) / span
				values[j] = values[prev] + frac*(values[i]-values[prev])
				present[j] = true
			}
		}
		prev = i
	}
	return values, present
}

// RecentAverage returns the mean of a metric's points in the trailing
// window ending at now, and the point count. Used by the safety gate's
// 3-day averages.
func RecentAverage(points []types.HealthDataPoint, now time.Time, window time.Duration) (float64, int) {
	cutoff := now.Add(-window)
	sum, n := 0.0, 0
	for _, p := range points {
		if !p.Timestamp.Before(cutoff) && !p.Timestamp.After(now) {
			sum += p.Value
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
