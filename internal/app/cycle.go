package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"infra-anomaly-alerts/internal/metrics"
	"infra-anomaly-alerts/internal/service"
)

// Cycle runs one evaluation cycle immediately and prints the report.
func (a *App) Cycle(ctx context.Context) error {
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

	svc := service.New(nil, orchestrator, archive, a.newNotifier(), a.newCharts(), metrics.NewSet(), 0, a.Logger)

	rep, err := svc.RunOnce(ctx, "on-demand")
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}
