package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evalID = MetricID{Scope: "payments-db", Name: "cpu-percent"}

func window(current, baseline []float64) MetricWindow {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := MetricWindow{Metric: evalID}
	for i, v := range current {
		w.Current = append(w.Current, MetricSample{
			Metric:    evalID,
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Value:     v,
		})
	}
	for i, v := range baseline {
		w.Baseline = append(w.Baseline, MetricSample{
			Metric:    evalID,
			Timestamp: now.Add(-7 * 24 * time.Hour).Add(time.Duration(i) * time.Minute),
			Value:     v,
		})
	}
	return w
}

func TestEvaluateAbsoluteDeltaAgainstBaseline(t *testing.T) {
	t.Parallel()

	def := MetricDefinition{
		ID:                evalID,
		Source:            "static",
		Mode:              ModeAbsolute,
		AbsoluteThreshold: 10,
		Direction:         DirectionIncrease,
		ConsecutivePoints: 1,
	}

	decision := Evaluate(window([]float64{65}, []float64{50}), def)

	require.True(t, decision.Breached())
	require.Len(t, decision.Breaches, 1)
	breach := decision.Breaches[0]
	assert.Equal(t, BreachAbsolute, breach.Type)
	assert.InDelta(t, 15.0, breach.Delta, 1e-9)
	assert.InDelta(t, 65.0, breach.Observed, 1e-9)
	require.NotNil(t, breach.Baseline)
	assert.InDelta(t, 50.0, *breach.Baseline, 1e-9)
}

func TestEvaluateAbsoluteWithoutBaselineUsesRawValue(t *testing.T) {
	t.Parallel()

	def := MetricDefinition{
		ID:                evalID,
		Source:            "static",
		Mode:              ModeAbsolute,
		AbsoluteThreshold: 60,
		Direction:         DirectionIncrease,
		ConsecutivePoints: 1,
	}

	decision := Evaluate(window([]float64{65}, nil), def)

	require.True(t, decision.Breached())
	assert.InDelta(t, 65.0, decision.Breaches[0].Delta, 1e-9)
}

func TestEvaluateRelativeSkippedOnZeroBaseline(t *testing.T) {
	t.Parallel()

	def := MetricDefinition{
		ID:                evalID,
		Source:            "static",
		Mode:              ModePercentChange,
		PercentThreshold:  50,
		Direction:         DirectionIncrease,
		ConsecutivePoints: 1,
	}

	t.Run("absent baseline", func(t *testing.T) {
		t.Parallel()
		decision := Evaluate(window([]float64{100}, nil), def)
		assert.False(t, decision.Breached())
		assert.True(t, decision.BaselineSkipped)
	})

	t.Run("zero baseline", func(t *testing.T) {
		t.Parallel()
		decision := Evaluate(window([]float64{100}, []float64{0}), def)
		assert.False(t, decision.Breached())
		assert.True(t, decision.BaselineSkipped)
	})
}

func TestEvaluateRelativeBreach(t *testing.T) {
	t.Parallel()

	def := MetricDefinition{
		ID:                evalID,
		Source:            "static",
		Mode:              ModePercentChange,
		PercentThreshold:  50,
		Direction:         DirectionIncrease,
		ConsecutivePoints: 1,
	}

	decision := Evaluate(window([]float64{90}, []float64{50}), def)

	require.True(t, decision.Breached())
	breach := decision.Breaches[0]
	assert.Equal(t, BreachRelative, breach.Type)
	assert.InDelta(t, 80.0, breach.Delta, 1e-9)
}

func TestEvaluateMinCurrentValueGate(t *testing.T) {
	t.Parallel()

	def := MetricDefinition{
		ID:                evalID,
		Source:            "static",
		Mode:              ModePercentChange,
		PercentThreshold:  50,
		Direction:         DirectionIncrease,
		ConsecutivePoints: 1,
		MinCurrentValue:   10,
	}

	// A 300% jump off a tiny base stays below the floor and must not fire.
	decision := Evaluate(window([]float64{4}, []float64{1}), def)
	assert.False(t, decision.Breached())
}

func TestEvaluateModeBothFiresIndependently(t *testing.T) {
	t.Parallel()

	def := MetricDefinition{
		ID:                evalID,
		Source:            "static",
		Mode:              ModeBoth,
		AbsoluteThreshold: 10,
		PercentThreshold:  200,
		Direction:         DirectionIncrease,
		ConsecutivePoints: 1,
	}

	decision := Evaluate(window([]float64{65}, []float64{50}), def)

	require.True(t, decision.Breached())
	require.Len(t, decision.Breaches, 1)
	assert.Equal(t, BreachAbsolute, decision.Breaches[0].Type)
}

func TestEvaluateDirectionDecrease(t *testing.T) {
	t.Parallel()

	def := MetricDefinition{
		ID:                evalID,
		Source:            "static",
		Mode:              ModeAbsolute,
		AbsoluteThreshold: 10,
		Direction:         DirectionDecrease,
		ConsecutivePoints: 1,
	}

	t.Run("drop breaches", func(t *testing.T) {
		t.Parallel()
		decision := Evaluate(window([]float64{30}, []float64{50}), def)
		require.True(t, decision.Breached())
		assert.InDelta(t, 20.0, decision.Breaches[0].Delta, 1e-9)
	})

	t.Run("rise is benign", func(t *testing.T) {
		t.Parallel()
		decision := Evaluate(window([]float64{80}, []float64{50}), def)
		assert.False(t, decision.Breached())
	})
}

func TestEvaluateNoData(t *testing.T) {
	t.Parallel()

	def := MetricDefinition{
		ID:                evalID,
		Source:            "static",
		Mode:              ModeAbsolute,
		AbsoluteThreshold: 10,
		Direction:         DirectionIncrease,
		ConsecutivePoints: 1,
	}

	decision := Evaluate(MetricWindow{Metric: evalID}, def)
	assert.True(t, decision.NoData)
	assert.False(t, decision.Breached())
}

func TestEvaluateUsesMeanOfWindow(t *testing.T) {
	t.Parallel()

	def := MetricDefinition{
		ID:                evalID,
		Source:            "static",
		Mode:              ModeAbsolute,
		AbsoluteThreshold: 10,
		Direction:         DirectionIncrease,
		ConsecutivePoints: 1,
	}

	// Mean of current is 60, mean of baseline 50: delta 10 hits the
	// threshold inclusively.
	decision := Evaluate(window([]float64{55, 65}, []float64{45, 55}), def)
	require.True(t, decision.Breached())
	assert.InDelta(t, 10.0, decision.Breaches[0].Delta, 1e-9)
}
