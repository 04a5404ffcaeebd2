package provider

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"vitalis/internal/metrics"
	"vitalis/internal/series"
	"vitalis/internal/types"
)

// demoProfile shapes one synthetic metric stream.
type demoProfile struct {
	key    types.MetricKey
	center float64
	swing  float64
}

// demoProfiles covers the wearable metrics a vendor would report.
// Subjective metrics stay out; those come from check-ins.
var demoProfiles = []demoProfile{
	{key: "sleep_duration", center: 440, swing: 60},
	{key: "sleep_efficiency", center: 88, swing: 6},
	{key: "hrv_rmssd", center: 55, swing: 12},
	{key: "resting_hr", center: 58, swing: 5},
	{key: "steps", center: 8000, swing: 3000},
	{key: "spo2", center: 97, swing: 1.5},
}

// DemoAdapter synthesizes a plausible daily stream without any vendor
// account. Values are a pure function of (user, metric, day), so
// repeated syncs produce identical points and the ingestion dedup makes
// them idempotent.
type DemoAdapter struct {
	registry *metrics.Registry
	now      func() time.Time
}

// NewDemoAdapter builds the demo vendor.
func NewDemoAdapter(reg *metrics.Registry) *DemoAdapter {
	return &DemoAdapter{registry: reg, now: time.Now}
}

func (d *DemoAdapter) Name() string { return "demo" }

// Fetch emits one point per profile per whole day in (since, now].
func (d *DemoAdapter) Fetch(ctx context.Context, user types.UserID, _ Token, since time.Time) ([]types.NormalizedPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	end := series.Day(d.now().UTC())
	day := series.Day(since).AddDate(0, 0, 1)

	var out []types.NormalizedPoint
	for ; !day.After(end); day = day.AddDate(0, 0, 1) {
		for _, p := range demoProfiles {
			spec, ok := d.registry.Spec(p.key)
			if !ok {
				continue
			}
			v := p.center + p.swing*unitWave(string(user), string(p.key), day)
			v = math.Max(spec.ValidMin, math.Min(spec.ValidMax, v))
			out = append(out, types.NormalizedPoint{
				User:      user,
				MetricKey: p.key,
				Value:     v,
				Unit:      spec.Unit,
				Timestamp: day.Add(8 * time.Hour),
				Source:    d.Name(),
			})
		}
	}
	return out, nil
}

// Refresh hands back a non-expiring token; the demo vendor has no OAuth.
func (d *DemoAdapter) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	return Token{AccessToken: "demo", RefreshToken: refreshToken}, nil
}

// unitWave maps (user, metric, day) onto [-1, 1]: a weekly sine carrying
// the trend plus hashed per-day jitter.
func unitWave(user, metric string, day time.Time) float64 {
	h := fnv.New64a()
	h.Write([]byte(user))
	h.Write([]byte{0})
	h.Write([]byte(metric))
	h.Write([]byte{0})
	h.Write([]byte(day.Format("2006-01-02")))
	jitter := float64(h.Sum64()%1000)/500 - 1 // [-1, 1)

	phase := float64(day.YearDay()%7) / 7 * 2 * math.Pi
	return 0.6*math.Sin(phase) + 0.4*jitter
}
