package ingest

import (
	"fmt"

	"vitalis/internal/types"
)

// unitCategory groups convertible units. Conversion is only attempted
// within a category; cross-category mismatches reject.
var unitCategory = map[string]string{
	"min":     "time",
	"minutes": "time",
	"h":       "time",
	"hours":   "time",
	"s":       "time",
	"seconds": "time",
	"ms":      "duration_ms",
	"percent": "percent",
	"%":       "percent",
	"ratio":   "percent",
	"bpm":     "heart_rate",
}

// toCanonical holds multiplicative factors into each category's canonical
// unit (time→min, percent→percent, duration_ms→ms, heart_rate→bpm).
var toCanonical = map[string]float64{
	"min":     1,
	"minutes": 1,
	"h":       60,
	"hours":   60,
	"s":       1.0 / 60.0,
	"seconds": 1.0 / 60.0,
	"ms":      1,
	"percent": 1,
	"%":       1,
	"ratio":   100,
	"bpm":     1,
}

// ConvertUnit converts a value into the spec's unit when both units share
// a category. Identity when units already match. Returns an error for
// incompatible categories.
func ConvertUnit(value float64, unit string, spec types.MetricSpec) (float64, string, error) {
	if unit == spec.Unit {
		return value, unit, nil
	}
	fromCat, fromOK := unitCategory[unit]
	toCat, toOK := unitCategory[spec.Unit]
	if !fromOK || !toOK || fromCat != toCat {
		return 0, "", fmt.Errorf("unit %q not convertible to %q for %s", unit, spec.Unit, spec.Key)
	}
	// Into canonical, then out. Both factors exist because category lookup
	// succeeded.
	canonical := value * toCanonical[unit]
	out := canonical / toCanonical[spec.Unit]
	return out, spec.Unit, nil
}
