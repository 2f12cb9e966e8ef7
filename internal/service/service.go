package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"infra-anomaly-alerts/internal/alerting"
	"infra-anomaly-alerts/internal/engine"
	"infra-anomaly-alerts/internal/metrics"
	"infra-anomaly-alerts/internal/report"
	"infra-anomaly-alerts/internal/scheduler"
	"infra-anomaly-alerts/internal/storage"
)

// Service orchestrates evaluation cycles, persistence, and alerting.
type Service struct {
	scheduler    *scheduler.Scheduler
	orchestrator *engine.Orchestrator
	archive      storage.ReportArchive
	notifier     alerting.Notifier
	charts       *report.ChartRenderer
	collectors   *metrics.Set
	logger       zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the evaluation service. Scheduler, notifier, charts, and
// collectors are optional.
func New(
	sched *scheduler.Scheduler,
	orchestrator *engine.Orchestrator,
	archive storage.ReportArchive,
	notifier alerting.Notifier,
	charts *report.ChartRenderer,
	collectors *metrics.Set,
	lockKey int64,
	logger zerolog.Logger,
) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := archive.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:    sched,
		orchestrator: orchestrator,
		archive:      archive,
		notifier:     notifier,
		charts:       charts,
		collectors:   collectors,
		logger:       logger.With().Str("component", "service").Logger(),
		locker:       locker,
		lockKey:      lockKey,
	}
}

// Run begins the scheduled evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessSlot)
}

// ProcessSlot 执行单个调度槽位的评估逻辑。
func (s *Service) ProcessSlot(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip slot because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.RunOnce(ctx, "scheduled")
	return err
}

// RunOnce executes one cycle synchronously and finishes the report.
func (s *Service) RunOnce(ctx context.Context, trigger string) (*engine.AnomalyReport, error) {
	rep, err := s.orchestrator.RunCycle(ctx, trigger)
	if err != nil {
		s.observeOutcome(trigger, "rejected", 0)
		return nil, err
	}
	s.finish(ctx, rep)
	return rep, nil
}

// TriggerCycle accepts an on-demand request and runs the cycle in the
// background. The conflict decision is returned immediately.
func (s *Service) TriggerCycle(trigger string) error {
	err := s.orchestrator.RunCycleAsync(context.Background(), trigger, func(rep *engine.AnomalyReport) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.finish(ctx, rep)
	})
	if err != nil {
		s.observeOutcome(trigger, "rejected", 0)
	}
	return err
}

func (s *Service) finish(ctx context.Context, rep *engine.AnomalyReport) {
	s.observeReport(rep)

	if s.charts != nil && rep.SignalCount() > 0 {
		if _, err := s.charts.RenderReport(rep); err != nil {
			s.logger.Error().Err(err).Msg("failed to render anomaly charts")
		}
	}

	if s.archive != nil {
		if _, err := s.archive.InsertReport(ctx, rep); err != nil {
			s.logger.Error().Err(err).Msg("failed to archive report")
		} else if s.collectors != nil {
			s.collectors.ReportsArchived.Inc()
		}
	}

	s.logger.Info().Str("trigger", rep.Trigger).
		Int("signals", rep.SignalCount()).
		Int("degraded", rep.DegradedCount()).
		Bool("deadline_exceeded", rep.Deadline).
		Msg("cycle completed")

	if s.notifier != nil && rep.SignalCount() > 0 {
		if err := s.notifier.Notify(ctx, rep); err != nil {
			s.logger.Error().Err(err).Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) observeReport(rep *engine.AnomalyReport) {
	s.observeOutcome(rep.Trigger, outcomeFor(rep), rep.Batch.Duration)
	if s.collectors == nil {
		return
	}
	for _, sig := range rep.Batch.Signals {
		s.collectors.SignalsTotal.WithLabelValues(sig.Metric.Scope, string(sig.Severity)).Inc()
	}
	for range rep.Batch.Degraded {
		s.collectors.DegradedTotal.Inc()
	}
}

func (s *Service) observeOutcome(trigger, outcome string, duration time.Duration) {
	if s.collectors == nil {
		return
	}
	s.collectors.CyclesTotal.WithLabelValues(trigger, outcome).Inc()
	if duration > 0 {
		s.collectors.CycleSeconds.Observe(duration.Seconds())
	}
}

func outcomeFor(rep *engine.AnomalyReport) string {
	switch {
	case rep.Deadline:
		return "deadline"
	case rep.DegradedCount() > 0:
		return "degraded"
	default:
		return "complete"
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
