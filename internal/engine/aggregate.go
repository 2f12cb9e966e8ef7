package engine

import (
	"sort"
	"time"
)

// BuildBatch groups one cycle's signals by scope into an AnomalyBatch.
// Degraded sources are recorded alongside, they never fail the batch.
func BuildBatch(startedAt time.Time, duration time.Duration, signals []AnomalySignal, degraded []DegradedSource) AnomalyBatch {
	batch := AnomalyBatch{
		StartedAt: startedAt,
		Duration:  duration,
		Signals:   signals,
		Degraded:  degraded,
	}

	if len(signals) > 0 {
		sort.SliceStable(batch.Signals, func(i, j int) bool {
			return batch.Signals[i].Metric.String() < batch.Signals[j].Metric.String()
		})
		batch.ByScope = make(map[string][]AnomalySignal)
		for _, sig := range batch.Signals {
			batch.ByScope[sig.Metric.Scope] = append(batch.ByScope[sig.Metric.Scope], sig)
		}
	}

	if len(degraded) > 0 {
		sort.SliceStable(batch.Degraded, func(i, j int) bool {
			return batch.Degraded[i].Metric.String() < batch.Degraded[j].Metric.String()
		})
	}

	return batch
}
