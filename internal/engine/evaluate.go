package engine

import (
	"math"
	"time"
)

// Breach is a single threshold violation found in one cycle.
type Breach struct {
	Type      BreachType
	Observed  float64
	Baseline  *float64
	Delta     float64
	Threshold float64
	// Magnitude is how far past the threshold the delta landed; severity
	// derives from it.
	Magnitude float64
}

// BreachDecision is the outcome of evaluating one metric window.
type BreachDecision struct {
	Metric MetricID
	// At is the timestamp of the newest current sample, the onset
	// candidate for a fresh streak.
	At       time.Time
	Breaches []Breach
	// BaselineSkipped notes that the relative check was skipped because
	// the baseline was absent or zero. Informational, not an error.
	BaselineSkipped bool
	// NoData means the current window held no samples at all.
	NoData bool
}

// Breached reports whether any check fired.
func (d BreachDecision) Breached() bool {
	return len(d.Breaches) > 0
}

// Evaluate applies a metric definition to one window. Pure function: safe
// to call concurrently across metrics.
//
// The absolute check compares the change of the representative current
// value against the baseline to the absolute threshold; with no usable
// baseline the change degenerates to the raw current value. The relative
// check compares the percent change against the percent threshold and is
// skipped entirely when the baseline is absent or zero, so a cold baseline
// can never divide by zero into a false positive. In ModeBoth each check
// fires independently and contributes its own breach type.
func Evaluate(window MetricWindow, def MetricDefinition) BreachDecision {
	decision := BreachDecision{Metric: window.Metric}

	if len(window.Current) == 0 {
		decision.NoData = true
		return decision
	}
	decision.At = window.Current[len(window.Current)-1].Timestamp

	current := mean(window.Current)
	var baseline *float64
	if len(window.Baseline) > 0 {
		b := mean(window.Baseline)
		baseline = &b
	}

	if def.Mode == ModeAbsolute || def.Mode == ModeBoth {
		if breach, ok := absoluteBreach(current, baseline, def); ok {
			decision.Breaches = append(decision.Breaches, breach)
		}
	}

	if def.Mode == ModePercentChange || def.Mode == ModeBoth {
		if baseline == nil || *baseline == 0 {
			decision.BaselineSkipped = true
		} else if current >= def.MinCurrentValue {
			if breach, ok := relativeBreach(current, *baseline, def); ok {
				decision.Breaches = append(decision.Breaches, breach)
			}
		}
	}

	return decision
}

func absoluteBreach(current float64, baseline *float64, def MetricDefinition) (Breach, bool) {
	base := 0.0
	if baseline != nil {
		base = *baseline
	}

	delta, ok := badDelta(current-base, def.Direction)
	if !ok || delta < def.AbsoluteThreshold {
		return Breach{}, false
	}

	return Breach{
		Type:      BreachAbsolute,
		Observed:  current,
		Baseline:  baseline,
		Delta:     delta,
		Threshold: def.AbsoluteThreshold,
		Magnitude: delta - def.AbsoluteThreshold,
	}, true
}

func relativeBreach(current, baseline float64, def MetricDefinition) (Breach, bool) {
	pct := (current - baseline) / baseline * 100

	delta, ok := badDelta(pct, def.Direction)
	if !ok || delta < def.PercentThreshold {
		return Breach{}, false
	}

	b := baseline
	return Breach{
		Type:      BreachRelative,
		Observed:  current,
		Baseline:  &b,
		Delta:     delta,
		Threshold: def.PercentThreshold,
		Magnitude: delta - def.PercentThreshold,
	}, true
}

// badDelta projects a signed change onto the definition's bad direction.
// The second return is false when the change moved the benign way.
func badDelta(change float64, dir Direction) (float64, bool) {
	switch dir {
	case DirectionIncrease:
		return change, change >= 0
	case DirectionDecrease:
		return -change, change <= 0
	default:
		return math.Abs(change), true
	}
}

func mean(samples []MetricSample) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}
