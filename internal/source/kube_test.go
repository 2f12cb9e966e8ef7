package source

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"infra-anomaly-alerts/internal/engine"
)

func int32Ptr(v int32) *int32 { return &v }

func testDeployment(namespace, name string, available int32, rolledOut time.Time) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
			Annotations: map[string]string{
				"deployment.kubernetes.io/revision": "7",
				"kubernetes.io/change-cause":        "kubectl apply",
			},
			Labels: map[string]string{
				"monitoring/causation-category": "db-cpu",
			},
			CreationTimestamp: metav1.NewTime(rolledOut.Add(-24 * time.Hour)),
		},
		Spec: appsv1.DeploymentSpec{Replicas: int32Ptr(4)},
		Status: appsv1.DeploymentStatus{
			AvailableReplicas: available,
			Conditions: []appsv1.DeploymentCondition{{
				Type:           appsv1.DeploymentProgressing,
				LastUpdateTime: metav1.NewTime(rolledOut),
			}},
		},
	}
}

func TestKubeFetchDeploymentEvents(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Second)
	client := fake.NewSimpleClientset(
		testDeployment("payments", "payments-api", 4, now.Add(-30*time.Minute)),
		testDeployment("payments", "stale-rollout", 4, now.Add(-48*time.Hour)),
		testDeployment("payments", "never-available", 0, now.Add(-10*time.Minute)),
		testDeployment("billing", "other-namespace", 4, now.Add(-10*time.Minute)),
	)

	kube := NewKubeWithClient(KubeOptions{}, client, zerolog.Nop())

	events, err := kube.FetchDeploymentEvents(context.Background(), "payments", now.Add(-time.Hour))
	require.NoError(t, err)

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "payments", ev.Scope)
	assert.Equal(t, "payments-api", ev.Name)
	assert.Equal(t, "7", ev.Version)
	assert.Equal(t, "kubectl apply", ev.Actor)
	assert.Equal(t, "db-cpu", ev.Category)
	assert.Equal(t, now.Add(-30*time.Minute), ev.Timestamp)
}

func TestKubeFetchDeploymentEventsFallsBackToCreation(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Second)
	deploy := testDeployment("payments", "no-conditions", 2, now)
	deploy.Status.Conditions = nil
	deploy.CreationTimestamp = metav1.NewTime(now.Add(-15 * time.Minute))

	client := fake.NewSimpleClientset(deploy)
	kube := NewKubeWithClient(KubeOptions{}, client, zerolog.Nop())

	events, err := kube.FetchDeploymentEvents(context.Background(), "payments", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, now.Add(-15*time.Minute), events[0].Timestamp)
}

func TestKubeFetchSamplesUnavailabilityPercent(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	client := fake.NewSimpleClientset(testDeployment("payments", "payments-api", 3, now))
	kube := NewKubeWithClient(KubeOptions{}, client, zerolog.Nop())

	def := engine.MetricDefinition{
		ID:     engine.MetricID{Scope: "payments", Name: "unavailable-replicas-percent"},
		Source: "kube",
		Query:  "payments-api",
	}
	spec := engine.WindowSpec{Start: now.Add(-10 * time.Minute), End: now, Step: time.Minute}

	samples, err := kube.FetchSamples(context.Background(), def, spec)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	// 1 of 4 desired replicas unavailable.
	assert.InDelta(t, 25.0, samples[0].Value, 1e-9)
}

func TestKubeFetchSamplesPastWindowEmpty(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	client := fake.NewSimpleClientset(testDeployment("payments", "payments-api", 4, now))
	kube := NewKubeWithClient(KubeOptions{}, client, zerolog.Nop())

	def := engine.MetricDefinition{
		ID:     engine.MetricID{Scope: "payments", Name: "unavailable-replicas-percent"},
		Source: "kube",
		Query:  "payments-api",
	}
	past := engine.WindowSpec{
		Start: now.Add(-7 * 24 * time.Hour).Add(-10 * time.Minute),
		End:   now.Add(-7 * 24 * time.Hour),
		Step:  time.Minute,
	}

	samples, err := kube.FetchSamples(context.Background(), def, past)
	require.NoError(t, err)
	assert.Nil(t, samples, "cluster state has no history")
}

func TestKubeFetchSamplesUnknownDeployment(t *testing.T) {
	t.Parallel()

	client := fake.NewSimpleClientset()
	kube := NewKubeWithClient(KubeOptions{}, client, zerolog.Nop())

	def := engine.MetricDefinition{
		ID:     engine.MetricID{Scope: "payments", Name: "unavailable-replicas-percent"},
		Source: "kube",
		Query:  "missing",
	}
	now := time.Now().UTC()
	spec := engine.WindowSpec{Start: now.Add(-10 * time.Minute), End: now, Step: time.Minute}

	_, err := kube.FetchSamples(context.Background(), def, spec)
	require.Error(t, err)
}

func TestStaticSourceWindowFiltering(t *testing.T) {
	t.Parallel()

	id := engine.MetricID{Scope: "simulated", Name: "error-rate-percent"}
	now := time.Now().UTC()

	static := NewStatic()
	static.SetSamples(id, []engine.MetricSample{
		{Metric: id, Timestamp: now.Add(-5 * time.Minute), Value: 1},
		{Metric: id, Timestamp: now.Add(-time.Hour), Value: 2},
	})
	static.AddDeployment(engine.DeploymentEvent{Scope: "simulated", Name: "rollout", Timestamp: now.Add(-20 * time.Minute)})
	static.AddDeployment(engine.DeploymentEvent{Scope: "simulated", Name: "ancient", Timestamp: now.Add(-3 * time.Hour)})

	def := engine.MetricDefinition{ID: id, Source: "static"}
	spec := engine.WindowSpec{Start: now.Add(-10 * time.Minute), End: now, Step: time.Minute}

	samples, err := static.FetchSamples(context.Background(), def, spec)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 1.0, samples[0].Value, 1e-9)

	events, err := static.FetchDeploymentEvents(context.Background(), "simulated", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "rollout", events[0].Name)

	_, err = static.FetchSamples(context.Background(), engine.MetricDefinition{ID: engine.MetricID{Scope: "x", Name: "y"}, Source: "static"}, spec)
	require.ErrorIs(t, err, engine.ErrUnknownMetric)
}
