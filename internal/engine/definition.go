package engine

import (
	"fmt"
	"sort"
	"time"
)

// MetricDefinition is the validated rule for one monitored metric.
type MetricDefinition struct {
	ID   MetricID
	Unit string

	// Source names the adapter that produces samples for this metric.
	Source string
	// Query is an opaque, source-specific selector (a PromQL expression,
	// a deployment name, ...). The engine never interprets it.
	Query string

	Mode              ComparisonMode
	AbsoluteThreshold float64
	PercentThreshold  float64
	Direction         Direction

	// ConsecutivePoints is how many back-to-back breaching cycles confirm
	// an anomaly.
	ConsecutivePoints int

	// BaselineLookback is the offset between the current window and the
	// historical comparison window.
	BaselineLookback time.Duration

	// MinCurrentValue gates the relative check: percent-change breaches
	// are suppressed while the observed value sits below it. Low-traffic
	// dimensions double on noise otherwise.
	MinCurrentValue float64

	// Category is the causation category this metric's breaches map to
	// during correlation.
	Category string
}

// Validate applies the configuration-time invariants. A definition that
// fails here never reaches a cycle.
func (d MetricDefinition) Validate() error {
	if d.ID.Scope == "" || d.ID.Name == "" {
		return fmt.Errorf("%w: %q: scope and name are required", ErrInvalidDefinition, d.ID)
	}
	if d.Source == "" {
		return fmt.Errorf("%w: %s: source is required", ErrInvalidDefinition, d.ID)
	}
	if err := validateMode(d.Mode); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, d.ID, err)
	}
	if err := validateDirection(d.Direction); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, d.ID, err)
	}
	if d.AbsoluteThreshold < 0 {
		return fmt.Errorf("%w: %s: absolute threshold cannot be negative", ErrInvalidDefinition, d.ID)
	}
	if d.PercentThreshold < 0 {
		return fmt.Errorf("%w: %s: percent threshold cannot be negative", ErrInvalidDefinition, d.ID)
	}
	if d.ConsecutivePoints < 1 {
		return fmt.Errorf("%w: %s: consecutive points must be >= 1", ErrInvalidDefinition, d.ID)
	}
	if d.MinCurrentValue < 0 {
		return fmt.Errorf("%w: %s: min current value cannot be negative", ErrInvalidDefinition, d.ID)
	}
	return nil
}

// Registry holds the immutable set of metric definitions, built once at
// startup and validated eagerly.
type Registry struct {
	defs map[MetricID]MetricDefinition
}

// NewRegistry validates every definition and rejects duplicates. It is the
// single place InvalidMetricDefinition can surface.
func NewRegistry(defs []MetricDefinition) (*Registry, error) {
	byID := make(map[MetricID]MetricDefinition, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate metric %s", ErrInvalidDefinition, def.ID)
		}
		byID[def.ID] = def
	}
	return &Registry{defs: byID}, nil
}

// Get returns the definition for a metric identity.
func (r *Registry) Get(id MetricID) (MetricDefinition, bool) {
	def, ok := r.defs[id]
	return def, ok
}

// All returns the definitions in a stable order.
func (r *Registry) All() []MetricDefinition {
	out := make([]MetricDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Len returns how many metrics are registered.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Scopes returns the distinct scopes across all definitions.
func (r *Registry) Scopes() []string {
	seen := make(map[string]struct{})
	for id := range r.defs {
		seen[id.Scope] = struct{}{}
	}
	scopes := make([]string, 0, len(seen))
	for scope := range seen {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}
