package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"infra-anomaly-alerts/internal/engine"
	"infra-anomaly-alerts/internal/rca"
	"infra-anomaly-alerts/internal/source"
)

// SimulateCycle 以给定的观测值/基线值构造合成指标数据，完整跑一次
// 评估与关联流程。用于验证阈值与告警链路。
func (a *App) SimulateCycle(ctx context.Context, observed, baseline float64) error {
	def := engine.MetricDefinition{
		ID:                engine.MetricID{Scope: "simulated", Name: "error-rate-percent"},
		Unit:              "percent",
		Source:            "static",
		Mode:              engine.ModeBoth,
		AbsoluteThreshold: 10,
		PercentThreshold:  50,
		Direction:         engine.DirectionIncrease,
		ConsecutivePoints: 1,
		BaselineLookback:  7 * 24 * time.Hour,
	}
	if err := def.Validate(); err != nil {
		return err
	}

	registry, err := engine.NewRegistry([]engine.MetricDefinition{def})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	static := source.NewStatic()
	static.SetSamples(def.ID, simulatedSamples(def.ID, now, observed, baseline, a.Config.Cycle.Window, def.BaselineLookback))
	static.AddDeployment(engine.DeploymentEvent{
		Scope:     "simulated",
		Name:      "simulated-rollout",
		Timestamp: now.Add(-20 * time.Minute),
		Version:   "3",
	})

	correlator := rca.New(rca.Options{}, a.Logger)

	orchestrator, err := engine.NewOrchestrator(registry, map[string]engine.SampleSource{"static": static}, static, correlator, engine.CycleOptions{
		Window:            a.Config.Cycle.Window,
		Step:              a.Config.Cycle.Step,
		CorrelationWindow: a.Config.Correlation.Window,
	}, a.Logger)
	if err != nil {
		return err
	}

	rep, err := orchestrator.RunCycle(ctx, "simulated")
	if err != nil {
		return err
	}

	if notifier := a.newNotifier(); notifier != nil {
		if err := notifier.Notify(ctx, rep); err != nil {
			a.Logger.Error().Err(err).Msg("模拟告警发送失败")
		}
	}

	encoded, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}

// simulatedSamples 为当前窗口与基线窗口各生成一条恒定序列。
func simulatedSamples(id engine.MetricID, now time.Time, observed, baseline float64, window, lookback time.Duration) []engine.MetricSample {
	if window <= 0 {
		window = 10 * time.Minute
	}
	samples := make([]engine.MetricSample, 0, 8)
	for i := 0; i < 4; i++ {
		offset := time.Duration(i) * window / 4
		samples = append(samples,
			engine.MetricSample{Metric: id, Timestamp: now.Add(-window).Add(offset), Value: observed},
			engine.MetricSample{Metric: id, Timestamp: now.Add(-lookback).Add(-window).Add(offset), Value: baseline},
		)
	}
	return samples
}
