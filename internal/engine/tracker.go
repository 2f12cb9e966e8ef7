package engine

import (
	"sync"
	"time"
)

// ConfirmationStatus is the hysteresis state of one metric.
type ConfirmationStatus string

const (
	StatusNormal    ConfirmationStatus = "normal"
	StatusSuspect   ConfirmationStatus = "suspect"
	StatusConfirmed ConfirmationStatus = "confirmed"
)

// BreachState is the per-metric hysteresis bookkeeping. Owned exclusively
// by the Tracker; mutated only under its lock.
type BreachState struct {
	Count    int
	Status   ConfirmationStatus
	Onset    time.Time
	LastSeen time.Time
}

// Tracker turns single-cycle breach decisions into confirmed anomaly
// signals using consecutive-point hysteresis.
//
// Escalation is slow: a streak of ConsecutivePoints breaching cycles is
// required before the single signal is emitted. Recovery is immediate: the
// first clean reading resets the streak and the confirmed status. The
// asymmetry is deliberate, alerting should be conservative going up and
// fast coming down.
type Tracker struct {
	mu     sync.Mutex
	states map[MetricID]*BreachState
}

// NewTracker creates a tracker with no prior state; every metric starts
// Normal with a zero count.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[MetricID]*BreachState)}
}

// Track folds one cycle's decision for a metric into its state and returns
// the signals confirmed by this cycle, if any. At most one signal per breach
// type is ever emitted per anomaly episode: once Confirmed, identical
// standing breaches only refresh bookkeeping.
//
// Calls are serialized under a single lock. Cardinality is tens to low
// hundreds of metrics, so per-key locking buys nothing here.
func (t *Tracker) Track(def MetricDefinition, decision BreachDecision) []AnomalySignal {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[decision.Metric]
	if !ok {
		state = &BreachState{Status: StatusNormal}
		t.states[decision.Metric] = state
	}

	if !decision.Breached() {
		state.Count = 0
		state.Status = StatusNormal
		state.Onset = time.Time{}
		state.LastSeen = decision.At
		return nil
	}

	state.Count++
	state.LastSeen = decision.At
	if state.Count == 1 {
		state.Onset = decision.At
	}

	if state.Status == StatusConfirmed {
		return nil
	}

	if state.Count < def.ConsecutivePoints {
		state.Status = StatusSuspect
		return nil
	}

	state.Status = StatusConfirmed
	return t.buildSignals(def, decision, state)
}

func (t *Tracker) buildSignals(def MetricDefinition, decision BreachDecision, state *BreachState) []AnomalySignal {
	signals := make([]AnomalySignal, 0, len(decision.Breaches))
	for _, breach := range decision.Breaches {
		signals = append(signals, AnomalySignal{
			Metric:      decision.Metric,
			Unit:        def.Unit,
			BreachType:  breach.Type,
			Observed:    breach.Observed,
			Baseline:    breach.Baseline,
			Delta:       breach.Delta,
			Threshold:   breach.Threshold,
			Consecutive: state.Count,
			Onset:       state.Onset,
			Severity:    severityForDelta(breach.Delta, breach.Threshold),
			Category:    def.Category,
		})
	}
	return signals
}

// State returns a copy of a metric's current breach state.
func (t *Tracker) State(id MetricID) (BreachState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[id]
	if !ok {
		return BreachState{}, false
	}
	return *state, true
}
