package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SampleSource produces ordered samples for a metric identity and window.
// Implementations live behind this boundary; the engine never branches on
// the kind of source.
type SampleSource interface {
	FetchSamples(ctx context.Context, def MetricDefinition, spec WindowSpec) ([]MetricSample, error)
}

// DeploymentSource supplies recent deployment events for a scope.
type DeploymentSource interface {
	FetchDeploymentEvents(ctx context.Context, scope string, since time.Time) ([]DeploymentEvent, error)
}

// Correlator ranks plausible deployment causes for a batch of signals.
type Correlator interface {
	Correlate(batch AnomalyBatch, deployments []DeploymentEvent, window time.Duration) []RCAFinding
}

// ScopeExpander widens the deployment fetch to scopes whose rollouts are
// causally plausible for a signal scope. Correlators that understand scope
// relatedness implement it; otherwise only the signal's own scope is queried.
type ScopeExpander interface {
	ExpandScope(scope string) []string
}

// CycleOptions tune orchestrator behaviour.
type CycleOptions struct {
	// Window is the length of the current evaluation period.
	Window time.Duration
	// Step is the sample resolution requested from sources.
	Step time.Duration
	// FanOut caps concurrent sample fetches.
	FanOut int
	// FetchTimeout bounds each individual source fetch.
	FetchTimeout time.Duration
	// Deadline caps the whole cycle; metrics unfinished at expiry are
	// degraded, the report is still produced.
	Deadline time.Duration
	// CorrelationWindow is the deployment lookback before a signal's
	// onset.
	CorrelationWindow time.Duration
}

func (o CycleOptions) withDefaults() CycleOptions {
	if o.Window <= 0 {
		o.Window = 10 * time.Minute
	}
	if o.Step <= 0 {
		o.Step = time.Minute
	}
	if o.FanOut <= 0 {
		o.FanOut = 4
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	if o.Deadline <= 0 {
		o.Deadline = 2 * time.Minute
	}
	if o.CorrelationWindow <= 0 {
		o.CorrelationWindow = time.Hour
	}
	return o
}

// Orchestrator drives one evaluation cycle end to end: fetch, evaluate,
// track, aggregate, correlate, report. At most one cycle is ever in flight;
// overlapping triggers are rejected with ErrConcurrentCycle so hysteresis
// counters keep well-defined cycle ordering.
type Orchestrator struct {
	logger      zerolog.Logger
	registry    *Registry
	sources     map[string]SampleSource
	deployments DeploymentSource
	correlator  Correlator
	tracker     *Tracker
	opts        CycleOptions

	inFlight atomic.Bool
}

// NewOrchestrator wires the cycle driver. The deployment source and
// correlator may be nil, in which case signals stay unattributed.
func NewOrchestrator(
	registry *Registry,
	sources map[string]SampleSource,
	deployments DeploymentSource,
	correlator Correlator,
	opts CycleOptions,
	logger zerolog.Logger,
) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("nil registry")
	}
	if len(sources) == 0 {
		return nil, errors.New("no sample sources configured")
	}
	for _, def := range registry.All() {
		if _, ok := sources[def.Source]; !ok {
			return nil, fmt.Errorf("%w: %s references unknown source %q", ErrInvalidDefinition, def.ID, def.Source)
		}
	}

	return &Orchestrator{
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		registry:    registry,
		sources:     sources,
		deployments: deployments,
		correlator:  correlator,
		tracker:     NewTracker(),
		opts:        opts.withDefaults(),
	}, nil
}

// Tracker exposes the hysteresis store, mainly for tests and diagnostics.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// RunCycle executes one cycle synchronously. A trigger arriving while a
// cycle runs gets ErrConcurrentCycle; an accepted trigger always yields
// exactly one report.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger string) (*AnomalyReport, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, ErrConcurrentCycle
	}
	defer o.inFlight.Store(false)
	return o.runLocked(ctx, trigger), nil
}

// RunCycleAsync acquires the single-flight slot immediately and runs the
// cycle in the background, invoking done with the finished report. The
// conflict decision is made before returning, so an overlapping trigger is
// rejected deterministically.
func (o *Orchestrator) RunCycleAsync(ctx context.Context, trigger string, done func(*AnomalyReport)) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		return ErrConcurrentCycle
	}
	go func() {
		defer o.inFlight.Store(false)
		report := o.runLocked(ctx, trigger)
		if done != nil {
			done(report)
		}
	}()
	return nil
}

type metricOutcome struct {
	signals  []AnomalySignal
	window   MetricWindow
	degraded *DegradedSource
}

func (o *Orchestrator) runLocked(parent context.Context, trigger string) *AnomalyReport {
	started := time.Now().UTC()
	ctx, cancel := context.WithTimeout(parent, o.opts.Deadline)
	defer cancel()

	o.logger.Info().Str("trigger", trigger).Int("metrics", o.registry.Len()).Msg("cycle started")

	spec := WindowSpec{
		Start: started.Add(-o.opts.Window),
		End:   started,
		Step:  o.opts.Step,
	}

	defs := o.registry.All()
	outcomes := make([]metricOutcome, len(defs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.opts.FanOut)
	for i, def := range defs {
		wg.Add(1)
		go func(i int, def MetricDefinition) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = degradedOutcome(def.ID, "cycle deadline exceeded before evaluation")
				return
			}
			outcomes[i] = o.evaluateMetric(ctx, def, spec)
		}(i, def)
	}
	wg.Wait()

	var signals []AnomalySignal
	var degraded []DegradedSource
	windows := make(map[string]MetricWindow)
	for _, out := range outcomes {
		if out.degraded != nil {
			degraded = append(degraded, *out.degraded)
			continue
		}
		if len(out.signals) > 0 {
			signals = append(signals, out.signals...)
			windows[out.window.Metric.String()] = out.window
		}
	}

	duration := time.Since(started)
	batch := BuildBatch(started, duration, signals, degraded)

	report := &AnomalyReport{
		Trigger:   trigger,
		Batch:     batch,
		Findings:  o.correlate(ctx, batch),
		CreatedAt: time.Now().UTC(),
		Deadline:  errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if len(windows) > 0 {
		report.Windows = windows
	}

	o.logger.Info().
		Str("trigger", trigger).
		Dur("duration", duration).
		Int("signals", report.SignalCount()).
		Int("degraded", report.DegradedCount()).
		Int("findings", len(report.Findings)).
		Msg("cycle completed")

	return report
}

// evaluateMetric runs the full fetch-evaluate-track sequence for a single
// metric. The tracker is only touched once both windows arrived intact, so
// a degraded metric never half-mutates its breach state.
func (o *Orchestrator) evaluateMetric(ctx context.Context, def MetricDefinition, spec WindowSpec) metricOutcome {
	source := o.sources[def.Source]

	current, err := o.fetch(ctx, source, def, spec)
	if err != nil {
		o.logger.Warn().Err(err).Stringer("metric", def.ID).Msg("current window fetch failed")
		return degradedOutcome(def.ID, err.Error())
	}

	baselineSamples, err := o.fetch(ctx, source, def, spec.BaselineSpec(def.BaselineLookback))
	if err != nil {
		o.logger.Warn().Err(err).Stringer("metric", def.ID).Msg("baseline window fetch failed")
		return degradedOutcome(def.ID, err.Error())
	}

	if ctx.Err() != nil {
		return degradedOutcome(def.ID, "cycle deadline exceeded before evaluation")
	}

	builder := NewSnapshotBuilder()
	builder.AddCurrent(current...)
	builder.AddBaseline(baselineSamples...)
	window := builder.Window(def.ID)

	decision := Evaluate(window, def)
	if decision.NoData {
		return degradedOutcome(def.ID, "no samples in current window")
	}
	if decision.BaselineSkipped {
		o.logger.Info().Stringer("metric", def.ID).Msg("baseline absent or zero, relative check skipped")
	}

	return metricOutcome{
		signals: o.tracker.Track(def, decision),
		window:  window,
	}
}

func (o *Orchestrator) fetch(ctx context.Context, source SampleSource, def MetricDefinition, spec WindowSpec) ([]MetricSample, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()
	samples, err := source.FetchSamples(fetchCtx, def, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return samples, nil
}

func (o *Orchestrator) correlate(ctx context.Context, batch AnomalyBatch) []RCAFinding {
	if o.correlator == nil || o.deployments == nil || len(batch.Signals) == 0 {
		return nil
	}

	since := earliestOnset(batch.Signals).Add(-o.opts.CorrelationWindow)

	scopes := make(map[string]struct{}, len(batch.ByScope))
	expander, _ := o.correlator.(ScopeExpander)
	for scope := range batch.ByScope {
		scopes[scope] = struct{}{}
		if expander == nil {
			continue
		}
		for _, related := range expander.ExpandScope(scope) {
			scopes[related] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(scopes))
	for scope := range scopes {
		ordered = append(ordered, scope)
	}
	sort.Strings(ordered)

	var events []DeploymentEvent
	for _, scope := range ordered {
		scoped, err := o.deployments.FetchDeploymentEvents(ctx, scope, since)
		if err != nil {
			o.logger.Warn().Err(err).Str("scope", scope).Msg("deployment feed unavailable, signals stay unattributed")
			continue
		}
		events = append(events, scoped...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return o.correlator.Correlate(batch, events, o.opts.CorrelationWindow)
}

func degradedOutcome(id MetricID, reason string) metricOutcome {
	return metricOutcome{degraded: &DegradedSource{Metric: id, Reason: reason}}
}

func earliestOnset(signals []AnomalySignal) time.Time {
	earliest := signals[0].Onset
	for _, sig := range signals[1:] {
		if sig.Onset.Before(earliest) {
			earliest = sig.Onset
		}
	}
	return earliest
}
