package rca

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"infra-anomaly-alerts/internal/engine"
)

// Causation categories known out of the box. The weight table below is the
// extension point; correlation logic never matches on category strings
// itself.
const (
	CategoryDBCPU             = "db-cpu"
	CategoryCacheMemory       = "cache-memory"
	CategoryHTTPError         = "http-error"
	CategoryPodResources      = "pod-resources"
	CategoryDeploymentGeneric = "deployment-generic"
)

// proximityFloor is the confidence contribution of a deployment sitting at
// the far edge of the correlation window.
const proximityFloor = 0.1

// Weights scales a candidate's confidence by how well its category lines
// up with the signal's expected causation category.
type Weights struct {
	// Match applies when the deployment category equals the signal's.
	Match float64
	// Generic applies to uncategorised deployments.
	Generic float64
	// Unrelated applies when the categories disagree.
	Unrelated float64
}

// DefaultWeights mirrors the policy that a same-category deployment is the
// strongest hypothesis and an unrelated one is a weak fallback.
func DefaultWeights() Weights {
	return Weights{Match: 1.0, Generic: 0.7, Unrelated: 0.3}
}

// Options configure the correlator.
type Options struct {
	Weights Weights
	// RelatedScopes maps a signal scope to additional scopes whose
	// deployments are causally plausible for it. Explicit only, no
	// substring guessing.
	RelatedScopes map[string][]string
}

// Engine is the deployment correlator.
type Engine struct {
	logger  zerolog.Logger
	weights Weights
	related map[string]map[string]struct{}
}

// New constructs a correlator.
func New(opts Options, logger zerolog.Logger) *Engine {
	weights := opts.Weights
	if weights.Match <= 0 {
		weights = DefaultWeights()
	}

	related := make(map[string]map[string]struct{}, len(opts.RelatedScopes))
	for scope, others := range opts.RelatedScopes {
		set := make(map[string]struct{}, len(others))
		for _, other := range others {
			set[other] = struct{}{}
		}
		related[scope] = set
	}

	return &Engine{
		logger:  logger.With().Str("component", "correlator").Logger(),
		weights: weights,
		related: related,
	}
}

// Correlate produces ranked findings for every signal that has at least one
// candidate deployment. A deployment is a candidate only when its scope is
// the signal's own or a declared related scope, and its timestamp lies in
// [onset-window, onset] — nothing after onset can be causal. Signals with
// no candidate produce no finding and stay in the report unattributed.
//
// Findings come back sorted by descending confidence; within a finding the
// candidates are ranked the same way, most recent first on ties.
func (e *Engine) Correlate(batch engine.AnomalyBatch, deployments []engine.DeploymentEvent, window time.Duration) []engine.RCAFinding {
	if len(batch.Signals) == 0 || len(deployments) == 0 {
		return nil
	}

	findings := make([]engine.RCAFinding, 0, len(batch.Signals))
	for _, sig := range batch.Signals {
		candidates := e.rankCandidates(sig, deployments, window)
		if len(candidates) == 0 {
			continue
		}
		findings = append(findings, engine.RCAFinding{
			Signal:     sig,
			Candidates: candidates,
			Confidence: candidates[0].Confidence,
			Category:   sig.Category,
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Confidence > findings[j].Confidence
	})

	if len(findings) > 0 {
		e.logger.Debug().Int("findings", len(findings)).Msg("correlation produced hypotheses")
	}
	return findings
}

func (e *Engine) rankCandidates(sig engine.AnomalySignal, deployments []engine.DeploymentEvent, window time.Duration) []engine.CorrelatedDeployment {
	cutoff := sig.Onset.Add(-window)

	var candidates []engine.CorrelatedDeployment
	for _, dep := range deployments {
		if !e.scopeMatches(sig.Metric.Scope, dep.Scope) {
			continue
		}
		if dep.Timestamp.After(sig.Onset) || dep.Timestamp.Before(cutoff) {
			continue
		}
		candidates = append(candidates, engine.CorrelatedDeployment{
			Event:      dep,
			Confidence: e.confidence(sig, dep, window),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Event.Timestamp.After(candidates[j].Event.Timestamp)
	})
	return candidates
}

// ExpandScope lists the declared related scopes for a signal scope. The
// orchestrator queries deployment events for these in addition to the
// signal's own scope, so cross-scope rollouts reach Correlate.
func (e *Engine) ExpandScope(scope string) []string {
	set := e.related[scope]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for other := range set {
		out = append(out, other)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) scopeMatches(signalScope, deploymentScope string) bool {
	if signalScope == deploymentScope {
		return true
	}
	_, ok := e.related[signalScope][deploymentScope]
	return ok
}

// confidence combines linear time proximity with the category weight.
// Proximity decays from 1.0 at the onset down to the floor at the window's
// far edge.
func (e *Engine) confidence(sig engine.AnomalySignal, dep engine.DeploymentEvent, window time.Duration) float64 {
	age := sig.Onset.Sub(dep.Timestamp)
	proximity := 1.0 - (1.0-proximityFloor)*(age.Seconds()/window.Seconds())

	score := proximity * e.categoryWeight(sig.Category, dep.Category)
	return clamp(score, 0, 1)
}

func (e *Engine) categoryWeight(signalCategory, deploymentCategory string) float64 {
	switch {
	case deploymentCategory == "" || deploymentCategory == CategoryDeploymentGeneric:
		return e.weights.Generic
	case deploymentCategory == signalCategory:
		return e.weights.Match
	default:
		return e.weights.Unrelated
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

var (
	_ engine.Correlator    = (*Engine)(nil)
	_ engine.ScopeExpander = (*Engine)(nil)
)
