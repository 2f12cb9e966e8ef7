package engine

import (
	"sort"
	"time"
)

// WindowSpec bounds one fetch against a sample source.
type WindowSpec struct {
	Start time.Time
	End   time.Time
	Step  time.Duration
}

// BaselineSpec derives the historical comparison window for a definition.
func (w WindowSpec) BaselineSpec(lookback time.Duration) WindowSpec {
	return WindowSpec{
		Start: w.Start.Add(-lookback),
		End:   w.End.Add(-lookback),
		Step:  w.Step,
	}
}

// SnapshotBuilder normalises raw samples into per-metric windows for one
// cycle. Duplicate timestamps for the same metric are collapsed, last write
// wins.
type SnapshotBuilder struct {
	current  map[MetricID]map[int64]MetricSample
	baseline map[MetricID]map[int64]MetricSample
}

// NewSnapshotBuilder creates an empty builder.
func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{
		current:  make(map[MetricID]map[int64]MetricSample),
		baseline: make(map[MetricID]map[int64]MetricSample),
	}
}

// AddCurrent records current-period samples.
func (b *SnapshotBuilder) AddCurrent(samples ...MetricSample) {
	add(b.current, samples)
}

// AddBaseline records baseline-period samples.
func (b *SnapshotBuilder) AddBaseline(samples ...MetricSample) {
	add(b.baseline, samples)
}

func add(dst map[MetricID]map[int64]MetricSample, samples []MetricSample) {
	for _, s := range samples {
		byTS, ok := dst[s.Metric]
		if !ok {
			byTS = make(map[int64]MetricSample)
			dst[s.Metric] = byTS
		}
		byTS[s.Timestamp.UnixNano()] = s
	}
}

// Window assembles the ordered window for one metric.
func (b *SnapshotBuilder) Window(id MetricID) MetricWindow {
	return MetricWindow{
		Metric:   id,
		Current:  ordered(b.current[id]),
		Baseline: ordered(b.baseline[id]),
	}
}

func ordered(byTS map[int64]MetricSample) []MetricSample {
	if len(byTS) == 0 {
		return nil
	}
	out := make([]MetricSample, 0, len(byTS))
	for _, s := range byTS {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
