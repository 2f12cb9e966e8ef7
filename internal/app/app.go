package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"infra-anomaly-alerts/internal/alerting"
	"infra-anomaly-alerts/internal/config"
	"infra-anomaly-alerts/internal/engine"
	"infra-anomaly-alerts/internal/metrics"
	"infra-anomaly-alerts/internal/rca"
	"infra-anomaly-alerts/internal/report"
	"infra-anomaly-alerts/internal/scheduler"
	"infra-anomaly-alerts/internal/server"
	"infra-anomaly-alerts/internal/service"
	"infra-anomaly-alerts/internal/source"
	"infra-anomaly-alerts/internal/storage"
	"infra-anomaly-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newRegistry() (*engine.Registry, error) {
	defs, err := a.Config.MetricDefinitions()
	if err != nil {
		return nil, err
	}
	return engine.NewRegistry(defs)
}

// newSources builds the configured sample adapters keyed by source name,
// plus the deployment feed when cluster access is enabled.
func (a *App) newSources() (map[string]engine.SampleSource, engine.DeploymentSource, error) {
	sources := make(map[string]engine.SampleSource)
	var deployments engine.DeploymentSource

	if a.Config.Sources.PromQL.Enabled {
		sources["promql"] = source.NewPromQL(source.PromQLOptions{
			BaseURL:   a.Config.Sources.PromQL.BaseURL,
			Timeout:   a.Config.Sources.PromQL.Timeout,
			UserAgent: a.Config.Sources.PromQL.UserAgent,
		}, a.Logger)
	}

	if a.Config.Sources.Kube.Enabled {
		kube, err := source.NewKube(source.KubeOptions{
			Kubeconfig:    a.Config.Sources.Kube.Kubeconfig,
			Namespace:     a.Config.Sources.Kube.Namespace,
			CategoryLabel: a.Config.Sources.Kube.CategoryLabel,
		}, a.Logger)
		if err != nil {
			return nil, nil, fmt.Errorf("build kube source: %w", err)
		}
		sources["kube"] = kube
		deployments = kube
	}

	if len(sources) == 0 {
		return nil, nil, errors.New("no sample sources enabled")
	}
	return sources, deployments, nil
}

func (a *App) newOrchestrator(sources map[string]engine.SampleSource, deployments engine.DeploymentSource) (*engine.Orchestrator, error) {
	registry, err := a.newRegistry()
	if err != nil {
		return nil, err
	}

	correlator := rca.New(rca.Options{
		Weights: rca.Weights{
			Match:     a.Config.Correlation.MatchWeight,
			Generic:   a.Config.Correlation.GenericWeight,
			Unrelated: a.Config.Correlation.UnrelatedWeight,
		},
		RelatedScopes: a.Config.Correlation.RelatedScopes,
	}, a.Logger)

	return engine.NewOrchestrator(registry, sources, deployments, correlator, engine.CycleOptions{
		Window:            a.Config.Cycle.Window,
		Step:              a.Config.Cycle.Step,
		FanOut:            a.Config.Cycle.FanOut,
		FetchTimeout:      a.Config.Cycle.FetchTimeout,
		Deadline:          a.Config.Cycle.Deadline,
		CorrelationWindow: a.Config.Correlation.Window,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Slack.Enabled {
		cfg := a.Config.Alerting.Slack
		return alerting.NewSlackNotifier(cfg.BotToken, cfg.Channel, cfg.APIBase, a.Config.Alerting.ChartDir, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newCharts() *report.ChartRenderer {
	if !a.Config.Alerting.Enabled || a.Config.Alerting.ChartDir == "" {
		return nil
	}
	return report.NewChartRenderer(a.Config.Alerting.ChartDir)
}

// openArchive returns the report archive, preferring PostgreSQL when a DSN
// is configured and an in-memory ring otherwise.
func (a *App) openArchive(ctx context.Context) (storage.ReportArchive, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory report archive")
		return storage.NewMemoryArchive(a.Config.Cycle.HistorySize), nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running evaluation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	sources, deployments, err := a.newSources()
	if err != nil {
		return err
	}

	orchestrator, err := a.newOrchestrator(sources, deployments)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	collectors := metrics.NewSet()
	registry := prometheus.NewRegistry()
	if err := collectors.Register(registry); err != nil {
		return fmt.Errorf("register collectors: %w", err)
	}

	svc := service.New(sched, orchestrator, archive, a.newNotifier(), a.newCharts(), collectors, a.Config.Scheduler.AdvisoryLockKey, a.Logger)

	if a.Config.Server.Enabled {
		srv, err := server.New(server.Options{
			Addr:   a.Config.Server.Addr,
			APIKey: a.Config.Server.APIKey,
		}, archive, svc, registry, a.Logger)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Logger.Error().Err(err).Msg("http server shutdown failed")
			}
		}()
	}

	a.Logger.Info().Str("build", version.String()).Msg("starting anomaly evaluation service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("anomaly evaluation service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
