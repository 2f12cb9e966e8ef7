package source

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"infra-anomaly-alerts/internal/engine"
)

const (
	revisionAnnotation    = "deployment.kubernetes.io/revision"
	changeCauseAnnotation = "kubernetes.io/change-cause"
)

// KubeOptions parameterise the cluster-state adapter.
type KubeOptions struct {
	// Kubeconfig is the path to a kubeconfig file; empty means in-cluster
	// configuration.
	Kubeconfig string
	Namespace  string
	// CategoryLabel names the deployment label carrying the causation
	// category used during correlation.
	CategoryLabel string
}

// Kube reads deployment state from a Kubernetes cluster. It serves two
// roles: a deployment-event feed for correlation, and a sample source for
// deployment availability metrics (the definition's Query names the
// deployment; the sample value is the percentage of desired replicas
// currently unavailable).
type Kube struct {
	opts   KubeOptions
	logger zerolog.Logger
	client kubernetes.Interface
}

// NewKube builds the adapter against a live cluster.
func NewKube(opts KubeOptions, logger zerolog.Logger) (*Kube, error) {
	restCfg, err := buildRESTConfig(opts.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return NewKubeWithClient(opts, client, logger), nil
}

// NewKubeWithClient wires an existing clientset, used by tests with the
// fake clientset.
func NewKubeWithClient(opts KubeOptions, client kubernetes.Interface, logger zerolog.Logger) *Kube {
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.CategoryLabel == "" {
		opts.CategoryLabel = "monitoring/causation-category"
	}
	return &Kube{
		opts:   opts,
		logger: logger.With().Str("component", "kube_source").Logger(),
		client: client,
	}
}

func buildRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		return rest.InClusterConfig()
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// FetchDeploymentEvents lists active deployments in the scope's namespace
// whose latest rollout happened at or after since.
func (k *Kube) FetchDeploymentEvents(ctx context.Context, scope string, since time.Time) ([]engine.DeploymentEvent, error) {
	namespace := scope
	if namespace == "" {
		namespace = k.opts.Namespace
	}

	list, err := k.client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list deployments in %s: %w", namespace, err)
	}

	var events []engine.DeploymentEvent
	for _, deploy := range list.Items {
		if deploy.Status.AvailableReplicas == 0 {
			continue
		}
		rolledOut := rolloutTime(&deploy)
		if rolledOut.Before(since) {
			continue
		}
		events = append(events, engine.DeploymentEvent{
			Scope:     namespace,
			Name:      deploy.Name,
			Timestamp: rolledOut,
			Version:   deploy.Annotations[revisionAnnotation],
			Actor:     deploy.Annotations[changeCauseAnnotation],
			Category:  deploy.Labels[k.opts.CategoryLabel],
		})
	}

	k.logger.Debug().Str("namespace", namespace).Int("events", len(events)).Msg("deployment events fetched")
	return events, nil
}

// FetchSamples reports a single point-in-time unavailability percentage for
// the deployment named by the definition's query. Cluster state has no
// history, so windows entirely in the past yield no samples and the
// relative check is naturally skipped.
func (k *Kube) FetchSamples(ctx context.Context, def engine.MetricDefinition, spec engine.WindowSpec) ([]engine.MetricSample, error) {
	if def.Query == "" {
		return nil, fmt.Errorf("%w: %s has no deployment name", engine.ErrUnknownMetric, def.ID)
	}

	now := time.Now().UTC()
	if spec.End.Before(now.Add(-time.Minute)) {
		return nil, nil
	}

	namespace := def.ID.Scope
	if namespace == "" {
		namespace = k.opts.Namespace
	}

	deploy, err := k.client.AppsV1().Deployments(namespace).Get(ctx, def.Query, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get deployment %s/%s: %w", namespace, def.Query, err)
	}

	desired := int32(1)
	if deploy.Spec.Replicas != nil && *deploy.Spec.Replicas > 0 {
		desired = *deploy.Spec.Replicas
	}
	unavailable := desired - deploy.Status.AvailableReplicas
	if unavailable < 0 {
		unavailable = 0
	}

	return []engine.MetricSample{{
		Metric:    def.ID,
		Timestamp: now,
		Value:     float64(unavailable) / float64(desired) * 100,
	}}, nil
}

// rolloutTime prefers the Progressing condition's last update over the
// creation timestamp, so restarts of a long-lived deployment count as
// fresh events.
func rolloutTime(deploy *appsv1.Deployment) time.Time {
	for _, cond := range deploy.Status.Conditions {
		if cond.Type == appsv1.DeploymentProgressing && !cond.LastUpdateTime.IsZero() {
			return cond.LastUpdateTime.Time.UTC()
		}
	}
	return deploy.CreationTimestamp.Time.UTC()
}

var (
	_ engine.SampleSource     = (*Kube)(nil)
	_ engine.DeploymentSource = (*Kube)(nil)
)
