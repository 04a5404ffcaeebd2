// Package metrics holds the canonical metric registry and the static
// metric→domain map. The registry is built once at startup and is
// immutable afterwards; every other component resolves specs through it.
package metrics

import (
	"fmt"
	"sort"
	"time"

	"vitalis/internal/types"
)

const day = 24 * time.Hour

// Registry resolves metric keys to their immutable specs.
type Registry struct {
	specs map[types.MetricKey]types.MetricSpec
	order []types.MetricKey
}

// defaultSpecs is the built-in metric catalog. Units are canonical: the
// ingestion service converts compatible units before validation.
var defaultSpecs = []types.MetricSpec{
	{Key: "sleep_duration", Domain: DomainSleep, Unit: "min", ValidMin: 60, ValidMax: 960, Direction: types.OptimalRange, OptimalMin: 420, OptimalMax: 540, Aggregation: types.AggregateMean, ExpectedCadence: day},
	{Key: "sleep_efficiency", Domain: DomainSleep, Unit: "percent", ValidMin: 0, ValidMax: 100, Direction: types.HigherBetter, Aggregation: types.AggregateMean, ExpectedCadence: day},
	{Key: "hrv_rmssd", Domain: DomainStressNervousSystem, Unit: "ms", ValidMin: 5, ValidMax: 250, Direction: types.HigherBetter, Aggregation: types.AggregateMean, ExpectedCadence: day},
	{Key: "resting_hr", Domain: DomainCardiometabolic, Unit: "bpm", ValidMin: 30, ValidMax: 150, Direction: types.LowerBetter, Aggregation: types.AggregateMean, ExpectedCadence: day},
	{Key: "steps", Domain: DomainActivity, Unit: "count", ValidMin: 0, ValidMax: 100000, Direction: types.HigherBetter, Aggregation: types.AggregateSum, ExpectedCadence: day},
	{Key: "active_minutes", Domain: DomainActivity, Unit: "min", ValidMin: 0, ValidMax: 720, Direction: types.HigherBetter, Aggregation: types.AggregateSum, ExpectedCadence: day},
	{Key: "mood", Domain: DomainSubjective, Unit: "score", ValidMin: 1, ValidMax: 10, Direction: types.HigherBetter, Aggregation: types.AggregateMean, ExpectedCadence: day},
	{Key: "energy", Domain: DomainSubjective, Unit: "score", ValidMin: 1, ValidMax: 10, Direction: types.HigherBetter, Aggregation: types.AggregateMean, ExpectedCadence: day},
	{Key: "stress", Domain: DomainStressNervousSystem, Unit: "score", ValidMin: 1, ValidMax: 10, Direction: types.LowerBetter, Aggregation: types.AggregateMean, ExpectedCadence: day},
	{Key: "weight", Domain: DomainCardiometabolic, Unit: "kg", ValidMin: 25, ValidMax: 350, Direction: types.OptimalRange, OptimalMin: 50, OptimalMax: 110, Aggregation: types.AggregateMean, ExpectedCadence: day},
	{Key: "glucose_fasting", Domain: DomainMetabolic, Unit: "mg_dl", ValidMin: 40, ValidMax: 400, Direction: types.OptimalRange, OptimalMin: 70, OptimalMax: 100, Aggregation: types.AggregateMean, ExpectedCadence: 7 * day},
	{Key: "spo2", Domain: DomainCardiometabolic, Unit: "percent", ValidMin: 70, ValidMax: 100, Direction: types.HigherBetter, Aggregation: types.AggregateMean, ExpectedCadence: day},
}

// NewRegistry builds the default registry.
func NewRegistry() *Registry {
	return NewRegistryFrom(defaultSpecs)
}

// NewRegistryFrom builds a registry from explicit specs. Used by tests that
// need a narrow catalog.
func NewRegistryFrom(specs []types.MetricSpec) *Registry {
	r := &Registry{specs: make(map[types.MetricKey]types.MetricSpec, len(specs))}
	for _, s := range specs {
		r.specs[s.Key] = s
		r.order = append(r.order, s.Key)
	}
	return r
}

// Spec returns the spec for a key.
func (r *Registry) Spec(key types.MetricKey) (types.MetricSpec, bool) {
	s, ok := r.specs[key]
	return s, ok
}

// MustSpec returns the spec or panics. Only for startup wiring, never for
// request paths.
func (r *Registry) MustSpec(key types.MetricKey) types.MetricSpec {
	s, ok := r.specs[key]
	if !ok {
		panic(fmt.Sprintf("metrics: unknown metric %q", key))
	}
	return s
}

// Keys returns metric keys in registration order. The loop runner iterates
// in this order so insight persistence is deterministic.
func (r *Registry) Keys() []types.MetricKey {
	out := make([]types.MetricKey, len(r.order))
	copy(out, r.order)
	return out
}

// KeysInDomain returns the keys of a domain, sorted.
func (r *Registry) KeysInDomain(domain string) []types.MetricKey {
	var out []types.MetricKey
	for _, k := range r.order {
		if r.specs[k].Domain == domain {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InRange reports whether v is inside the spec's valid range (inclusive).
func InRange(spec types.MetricSpec, v float64) bool {
	return v >= spec.ValidMin && v <= spec.ValidMax
}
