package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"infra-anomaly-alerts/internal/engine"
)

// Static serves samples and deployment events from memory. It backs the
// one-shot simulation path and tests; production cycles use the live
// adapters.
type Static struct {
	mu          sync.RWMutex
	samples     map[engine.MetricID][]engine.MetricSample
	deployments []engine.DeploymentEvent
}

// NewStatic creates an empty in-memory source.
func NewStatic() *Static {
	return &Static{samples: make(map[engine.MetricID][]engine.MetricSample)}
}

// SetSamples replaces the sample series for a metric.
func (s *Static) SetSamples(id engine.MetricID, samples []engine.MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[id] = samples
}

// AddDeployment records a deployment event.
func (s *Static) AddDeployment(event engine.DeploymentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments = append(s.deployments, event)
}

// FetchSamples returns the stored samples falling inside the window.
func (s *Static) FetchSamples(_ context.Context, def engine.MetricDefinition, spec engine.WindowSpec) ([]engine.MetricSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.samples[def.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownMetric, def.ID)
	}

	var out []engine.MetricSample
	for _, sample := range stored {
		if sample.Timestamp.Before(spec.Start) || sample.Timestamp.After(spec.End) {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

// FetchDeploymentEvents returns stored events for the scope since the
// given time.
func (s *Static) FetchDeploymentEvents(_ context.Context, scope string, since time.Time) ([]engine.DeploymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []engine.DeploymentEvent
	for _, event := range s.deployments {
		if event.Scope != scope || event.Timestamp.Before(since) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

var (
	_ engine.SampleSource     = (*Static)(nil)
	_ engine.DeploymentSource = (*Static)(nil)
)
