package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-anomaly-alerts/internal/engine"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "app:\n  name: infrawatcher\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Cycle.Window)
	assert.Equal(t, time.Hour, cfg.Correlation.Window)
	assert.InDelta(t, 0.7, cfg.Correlation.GenericWeight, 1e-9)
	assert.Equal(t, "monitoring/causation-category", cfg.Sources.Kube.CategoryLabel)
}

func TestLoadFullConfig(t *testing.T) {
	content := `
scheduler:
  interval: 1h
cycle:
  window: 15m
  fan_out: 8
correlation:
  window: 2h
  related_scopes:
    payments-db:
      - payments-api
sources:
  promql:
    enabled: true
    base_url: http://vm:8481/select/0/prometheus/api/v1
metrics:
  - scope: payments-db
    name: cpu-percent
    unit: percent
    source: promql
    query: max(rds_cpu_utilization)
    mode: both
    absolute_threshold: 10
    percent_threshold: 50
    direction: increase
    consecutive_points: 3
    category: db-cpu
`
	cfg, err := Load(writeConfigFile(t, content))
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 8, cfg.Cycle.FanOut)
	assert.Equal(t, []string{"payments-api"}, cfg.Correlation.RelatedScopes["payments-db"])

	defs, err := cfg.MetricDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, engine.MetricID{Scope: "payments-db", Name: "cpu-percent"}, def.ID)
	assert.Equal(t, engine.ModeBoth, def.Mode)
	assert.Equal(t, 3, def.ConsecutivePoints)
	assert.Equal(t, 7*24*time.Hour, def.BaselineLookback, "lookback defaults to one week")
}

func TestLoadRejectsInvalidMetric(t *testing.T) {
	content := `
metrics:
  - scope: payments-db
    name: cpu-percent
    source: promql
    mode: sideways
`
	_, err := Load(writeConfigFile(t, content))
	require.ErrorIs(t, err, engine.ErrInvalidDefinition)
}

func TestLoadRejectsSlackWithoutToken(t *testing.T) {
	content := `
alerting:
  enabled: true
  slack:
    enabled: true
    channel: "#incidents"
`
	_, err := Load(writeConfigFile(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_token")
}

func TestLoadRejectsNonPositiveInterval(t *testing.T) {
	content := `
scheduler:
  interval: 0s
`
	_, err := Load(writeConfigFile(t, content))
	require.Error(t, err)
}

func TestMetricDefinitionDefaults(t *testing.T) {
	cfg := &Config{Metrics: []MetricConfig{{
		Scope:             "cache",
		Name:              "memory-percent",
		Source:            "promql",
		Mode:              "absolute",
		AbsoluteThreshold: 20,
	}}}

	defs, err := cfg.MetricDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, engine.DirectionIncrease, defs[0].Direction)
	assert.Equal(t, 1, defs[0].ConsecutivePoints)
}
