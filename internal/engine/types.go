package engine

import (
	"fmt"
	"time"
)

// ComparisonMode selects which threshold checks apply to a metric.
type ComparisonMode string

const (
	ModeAbsolute      ComparisonMode = "absolute"
	ModePercentChange ComparisonMode = "percent_change"
	ModeBoth          ComparisonMode = "both"
)

// Direction marks which way a metric moving is considered bad.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionEither   Direction = "either"
)

// BreachType distinguishes how a threshold was violated.
type BreachType string

const (
	BreachAbsolute BreachType = "absolute"
	BreachRelative BreachType = "relative"
)

// Severity captures how far past its threshold a metric landed.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MetricID identifies one monitored dimension: a scope (service, cluster,
// resource) plus a metric name within it.
type MetricID struct {
	Scope string `json:"scope"`
	Name  string `json:"name"`
}

func (id MetricID) String() string {
	return id.Scope + "." + id.Name
}

// MetricSample is a single timestamped observation.
type MetricSample struct {
	Metric    MetricID  `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricWindow pairs the current evaluation period with its baseline period
// for one metric in one cycle. Baseline may be empty when the lookback
// produced no data.
type MetricWindow struct {
	Metric   MetricID       `json:"metric"`
	Current  []MetricSample `json:"current"`
	Baseline []MetricSample `json:"baseline,omitempty"`
}

// AnomalySignal is emitted exactly once when a metric's breach streak
// reaches the configured consecutive-point count.
type AnomalySignal struct {
	Metric      MetricID   `json:"metric"`
	Unit        string     `json:"unit,omitempty"`
	BreachType  BreachType `json:"breach_type"`
	Observed    float64    `json:"observed"`
	Baseline    *float64   `json:"baseline,omitempty"`
	Delta       float64    `json:"delta"`
	Threshold   float64    `json:"threshold"`
	Consecutive int        `json:"consecutive"`
	Onset       time.Time  `json:"onset"`
	Severity    Severity   `json:"severity"`
	Category    string     `json:"category,omitempty"`
}

// DegradedSource records a metric that could not be evaluated this cycle.
type DegradedSource struct {
	Metric MetricID `json:"metric"`
	Reason string   `json:"reason"`
}

// AnomalyBatch collects the signals of one cycle together with cycle
// metadata.
type AnomalyBatch struct {
	StartedAt time.Time                  `json:"started_at"`
	Duration  time.Duration              `json:"duration"`
	Signals   []AnomalySignal            `json:"signals"`
	ByScope   map[string][]AnomalySignal `json:"by_scope,omitempty"`
	Degraded  []DegradedSource           `json:"degraded,omitempty"`
}

// DeploymentEvent describes a deployment observed by a cluster-state feed.
// Read-only to the engine.
type DeploymentEvent struct {
	Scope     string    `json:"scope"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Category  string    `json:"category,omitempty"`
}

// CorrelatedDeployment is one ranked causal candidate for a signal.
type CorrelatedDeployment struct {
	Event      DeploymentEvent `json:"event"`
	Confidence float64         `json:"confidence"`
}

// RCAFinding ties a signal to the deployments plausibly responsible for it.
// Candidates are ranked by descending confidence; the first is the primary
// hypothesis.
type RCAFinding struct {
	Signal     AnomalySignal          `json:"signal"`
	Candidates []CorrelatedDeployment `json:"candidates"`
	Confidence float64                `json:"confidence"`
	Category   string                 `json:"category,omitempty"`
}

// AnomalyReport is the immutable artifact of one completed cycle.
type AnomalyReport struct {
	Trigger   string                  `json:"trigger"`
	Batch     AnomalyBatch            `json:"batch"`
	Findings  []RCAFinding            `json:"findings,omitempty"`
	Windows   map[string]MetricWindow `json:"windows,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	Deadline  bool                    `json:"deadline_exceeded,omitempty"`
}

// SignalCount returns the number of confirmed signals in the report.
func (r *AnomalyReport) SignalCount() int {
	return len(r.Batch.Signals)
}

// DegradedCount returns the number of sources skipped this cycle.
func (r *AnomalyReport) DegradedCount() int {
	return len(r.Batch.Degraded)
}

func severityForDelta(delta, threshold float64) Severity {
	if threshold <= 0 {
		return SeverityLow
	}
	ratio := delta / threshold
	switch {
	case ratio >= 2:
		return SeverityCritical
	case ratio >= 1.5:
		return SeverityHigh
	case ratio >= 1.25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func validateDirection(d Direction) error {
	switch d {
	case DirectionIncrease, DirectionDecrease, DirectionEither:
		return nil
	}
	return fmt.Errorf("unknown direction %q", d)
}

func validateMode(m ComparisonMode) error {
	switch m {
	case ModeAbsolute, ModePercentChange, ModeBoth:
		return nil
	}
	return fmt.Errorf("unknown comparison mode %q", m)
}
