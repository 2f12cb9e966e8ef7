package rca

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-anomaly-alerts/internal/engine"
	"infra-anomaly-alerts/internal/source"
)

var onset = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signal(scope, category string) engine.AnomalySignal {
	return engine.AnomalySignal{
		Metric:   engine.MetricID{Scope: scope, Name: "cpu-percent"},
		Onset:    onset,
		Category: category,
	}
}

func batchOf(signals ...engine.AnomalySignal) engine.AnomalyBatch {
	return engine.BuildBatch(onset, time.Second, signals, nil)
}

func deployment(scope, name, category string, age time.Duration) engine.DeploymentEvent {
	return engine.DeploymentEvent{
		Scope:     scope,
		Name:      name,
		Timestamp: onset.Add(-age),
		Category:  category,
	}
}

func TestCorrelateWindowBounds(t *testing.T) {
	t.Parallel()

	e := New(Options{}, zerolog.Nop())
	events := []engine.DeploymentEvent{
		deployment("payments-db", "inside", "", 40*time.Minute),
		deployment("payments-db", "too-old", "", 150*time.Minute),
		deployment("payments-db", "after-onset", "", -10*time.Minute),
	}

	findings := e.Correlate(batchOf(signal("payments-db", "")), events, time.Hour)

	require.Len(t, findings, 1)
	require.Len(t, findings[0].Candidates, 1)
	assert.Equal(t, "inside", findings[0].Candidates[0].Event.Name)
}

func TestCorrelateConfidenceProximity(t *testing.T) {
	t.Parallel()

	e := New(Options{}, zerolog.Nop())

	t.Run("recent deploy near full confidence", func(t *testing.T) {
		t.Parallel()
		events := []engine.DeploymentEvent{deployment("payments-db", "recent", CategoryDBCPU, time.Minute)}
		findings := e.Correlate(batchOf(signal("payments-db", CategoryDBCPU)), events, time.Hour)
		require.Len(t, findings, 1)
		assert.Greater(t, findings[0].Confidence, 0.95)
	})

	t.Run("stale deploy decays toward floor", func(t *testing.T) {
		t.Parallel()
		events := []engine.DeploymentEvent{deployment("payments-db", "stale", CategoryDBCPU, 59*time.Minute)}
		findings := e.Correlate(batchOf(signal("payments-db", CategoryDBCPU)), events, time.Hour)
		require.Len(t, findings, 1)
		assert.Less(t, findings[0].Confidence, 0.2)
		assert.Greater(t, findings[0].Confidence, 0.0)
	})
}

func TestCorrelateCategoryWeights(t *testing.T) {
	t.Parallel()

	e := New(Options{}, zerolog.Nop())
	age := 30 * time.Minute
	events := []engine.DeploymentEvent{
		deployment("payments-db", "matching", CategoryDBCPU, age),
		deployment("payments-db", "generic", "", age),
		deployment("payments-db", "unrelated", CategoryCacheMemory, age),
	}

	findings := e.Correlate(batchOf(signal("payments-db", CategoryDBCPU)), events, time.Hour)
	require.Len(t, findings, 1)
	require.Len(t, findings[0].Candidates, 3)

	byName := make(map[string]float64, 3)
	for _, c := range findings[0].Candidates {
		byName[c.Event.Name] = c.Confidence
	}
	assert.Greater(t, byName["matching"], byName["generic"])
	assert.Greater(t, byName["generic"], byName["unrelated"])

	// Ranking follows confidence, primary hypothesis first.
	assert.Equal(t, "matching", findings[0].Candidates[0].Event.Name)
	assert.InDelta(t, findings[0].Candidates[0].Confidence, findings[0].Confidence, 1e-9)
}

func TestCorrelateCloserDeploymentRanksFirst(t *testing.T) {
	t.Parallel()

	e := New(Options{}, zerolog.Nop())
	events := []engine.DeploymentEvent{
		deployment("payments-db", "older", "", 30*time.Minute),
		deployment("payments-db", "newer", "", 10*time.Minute),
	}

	findings := e.Correlate(batchOf(signal("payments-db", "")), events, time.Hour)
	require.Len(t, findings, 1)
	assert.Equal(t, "newer", findings[0].Candidates[0].Event.Name)
}

func TestCorrelateScopeFiltering(t *testing.T) {
	t.Parallel()

	events := []engine.DeploymentEvent{
		deployment("payments-api", "related-scope", "", 20*time.Minute),
		deployment("billing", "foreign-scope", "", 20*time.Minute),
	}

	t.Run("foreign scopes excluded", func(t *testing.T) {
		t.Parallel()
		e := New(Options{}, zerolog.Nop())
		findings := e.Correlate(batchOf(signal("payments-db", "")), events, time.Hour)
		assert.Empty(t, findings)
	})

	t.Run("declared related scopes included", func(t *testing.T) {
		t.Parallel()
		e := New(Options{
			RelatedScopes: map[string][]string{"payments-db": {"payments-api"}},
		}, zerolog.Nop())
		findings := e.Correlate(batchOf(signal("payments-db", "")), events, time.Hour)
		require.Len(t, findings, 1)
		require.Len(t, findings[0].Candidates, 1)
		assert.Equal(t, "related-scope", findings[0].Candidates[0].Event.Name)
	})
}

func TestCorrelateFindingsSortedByConfidence(t *testing.T) {
	t.Parallel()

	e := New(Options{}, zerolog.Nop())
	weak := signal("cache", CategoryCacheMemory)
	strong := signal("payments-db", CategoryDBCPU)

	events := []engine.DeploymentEvent{
		deployment("payments-db", "fresh", CategoryDBCPU, time.Minute),
		deployment("cache", "stale", "", 55*time.Minute),
	}

	findings := e.Correlate(batchOf(weak, strong), events, time.Hour)
	require.Len(t, findings, 2)
	assert.Equal(t, "payments-db", findings[0].Signal.Metric.Scope)
	assert.GreaterOrEqual(t, findings[0].Confidence, findings[1].Confidence)
}

func TestCorrelateEmptyInputs(t *testing.T) {
	t.Parallel()

	e := New(Options{}, zerolog.Nop())
	assert.Nil(t, e.Correlate(batchOf(), []engine.DeploymentEvent{deployment("a", "b", "", time.Minute)}, time.Hour))
	assert.Nil(t, e.Correlate(batchOf(signal("payments-db", "")), nil, time.Hour))
}

func TestExpandScope(t *testing.T) {
	t.Parallel()

	e := New(Options{RelatedScopes: map[string][]string{
		"payments-db": {"payments", "checkout"},
	}}, zerolog.Nop())

	assert.Equal(t, []string{"checkout", "payments"}, e.ExpandScope("payments-db"))
	assert.Nil(t, e.ExpandScope("cache"))
}

// A deployment in a declared related scope must be attributable through a
// full cycle, not only when events are handed to Correlate directly.
func TestRelatedScopeAttributionThroughCycle(t *testing.T) {
	t.Parallel()

	def := engine.MetricDefinition{
		ID:                engine.MetricID{Scope: "payments-db", Name: "cpu-percent"},
		Source:            "static",
		Mode:              engine.ModeAbsolute,
		AbsoluteThreshold: 10,
		Direction:         engine.DirectionIncrease,
		ConsecutivePoints: 1,
		BaselineLookback:  7 * 24 * time.Hour,
	}
	registry, err := engine.NewRegistry([]engine.MetricDefinition{def})
	require.NoError(t, err)

	now := time.Now().UTC()
	window := 10 * time.Minute
	static := source.NewStatic()
	samples := make([]engine.MetricSample, 0, 8)
	for i := 0; i < 4; i++ {
		offset := time.Duration(i) * window / 4
		samples = append(samples,
			engine.MetricSample{Metric: def.ID, Timestamp: now.Add(-window).Add(offset), Value: 65},
			engine.MetricSample{Metric: def.ID, Timestamp: now.Add(-def.BaselineLookback).Add(-window).Add(offset), Value: 50},
		)
	}
	static.SetSamples(def.ID, samples)
	static.AddDeployment(engine.DeploymentEvent{
		Scope:     "payments",
		Name:      "payments-api",
		Timestamp: now.Add(-30 * time.Minute),
	})

	correlator := New(Options{RelatedScopes: map[string][]string{
		"payments-db": {"payments"},
	}}, zerolog.Nop())

	orch, err := engine.NewOrchestrator(registry, map[string]engine.SampleSource{"static": static}, static, correlator, engine.CycleOptions{
		Window:            window,
		CorrelationWindow: time.Hour,
	}, zerolog.Nop())
	require.NoError(t, err)

	rep, err := orch.RunCycle(context.Background(), "scheduled")
	require.NoError(t, err)

	require.Len(t, rep.Findings, 1)
	require.NotEmpty(t, rep.Findings[0].Candidates)
	assert.Equal(t, "payments", rep.Findings[0].Candidates[0].Event.Scope)
	assert.Equal(t, "payments-api", rep.Findings[0].Candidates[0].Event.Name)
}
