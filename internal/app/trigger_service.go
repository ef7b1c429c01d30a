// internal/app/trigger_service.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/schedule"
)

// TickOutcome says what a scheduler tick did.
type TickOutcome string

const (
	TickOrphan  TickOutcome = "orphan"  // no start time recorded; trigger removed
	TickExpired TickOutcome = "expired" // processing window over; trigger removed
	TickRan     TickOutcome = "ran"
	TickFailed  TickOutcome = "failed" // pass returned an error or panicked
	TickSkipped TickOutcome = "skipped"
)

// PassRunner is the pipeline entry point driven by the trigger.
type PassRunner interface {
	RunPass(ctx context.Context) (PassReport, error)
}

// TriggerStatus describes the current processing window.
type TriggerStatus struct {
	Running   bool
	StartedAt time.Time
	ExpiresAt time.Time
	Installed bool
}

// TriggerService owns the self-expiring periodic trigger of the pipeline.
type TriggerService struct {
	common
	runner   PassRunner
	trigger  schedule.Trigger
	state    schedule.RunState
	interval time.Duration
	ceiling  time.Duration
	logger   *logrus.Entry
}

func NewTriggerService(runner PassRunner, trigger schedule.Trigger, state schedule.RunState, interval, ceiling time.Duration, logger *logrus.Entry, opts ...Option) *TriggerService {
	return &TriggerService{
		common:   newCommon(opts),
		runner:   runner,
		trigger:  trigger,
		state:    state,
		interval: interval,
		ceiling:  ceiling,
		logger:   logger.WithField("component", "trigger"),
	}
}

// Start replaces any existing trigger, records the start time, installs a
// fresh trigger and runs one pass immediately.
func (s *TriggerService) Start(ctx context.Context) (TickOutcome, error) {
	s.trigger.Remove()
	if err := s.state.MarkStarted(ctx, s.now()); err != nil {
		return TickSkipped, fmt.Errorf("failed to record start time: %w", err)
	}
	if err := s.trigger.Install(s.interval, func() { s.Tick(context.Background()) }); err != nil {
		_ = s.state.Clear(ctx)
		return TickSkipped, fmt.Errorf("failed to install trigger: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"interval": s.interval, "ceiling": s.ceiling}).Info("Processing started")
	return s.Tick(ctx), nil
}

// Stop removes the trigger and clears the start time. A pass already
// running finishes on its own.
func (s *TriggerService) Stop(ctx context.Context) error {
	s.trigger.Remove()
	if err := s.state.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear start time: %w", err)
	}
	s.logger.Info("Processing stopped")
	return nil
}

// Resume reinstalls the trigger after a restart when a processing window
// recorded before the restart is still open. It reports whether it did.
func (s *TriggerService) Resume(ctx context.Context) (bool, error) {
	started, ok, err := s.state.StartedAt(ctx)
	if err != nil || !ok {
		return false, err
	}
	if s.now().Sub(started) > s.ceiling {
		return false, s.state.Clear(ctx)
	}
	if err := s.trigger.Install(s.interval, func() { s.Tick(context.Background()) }); err != nil {
		return false, fmt.Errorf("failed to install trigger: %w", err)
	}
	s.logger.WithField("started_at", started).Info("Processing window resumed")
	return true, nil
}

// Tick is the trigger callback.
func (s *TriggerService) Tick(ctx context.Context) TickOutcome {
	started, ok, err := s.state.StartedAt(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read start time; skipping tick")
		return TickSkipped
	}
	if !ok {
		s.trigger.Remove()
		s.logger.Warn("Removed orphaned trigger with no recorded start time")
		return TickOrphan
	}
	if elapsed := s.now().Sub(started); elapsed > s.ceiling {
		s.trigger.Remove()
		if err := s.state.Clear(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to clear start time")
		}
		s.logger.WithField("elapsed", elapsed.Round(time.Second)).Info("Processing window expired; trigger removed")
		return TickExpired
	}
	return s.RunOnce(ctx)
}

// RunOnce runs a single guarded pass regardless of the trigger. Errors and
// panics are logged and never propagate.
func (s *TriggerService) RunOnce(ctx context.Context) (outcome TickOutcome) {
	begin := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Pipeline pass panicked")
			outcome = TickFailed
		}
		s.metrics.PipelineRun(string(outcome), s.now().Sub(begin))
	}()

	if _, err := s.runner.RunPass(ctx); err != nil {
		s.logger.WithError(err).Error("Pipeline pass failed")
		return TickFailed
	}
	return TickRan
}

// Status reports the current processing window.
func (s *TriggerService) Status(ctx context.Context) (TriggerStatus, error) {
	started, ok, err := s.state.StartedAt(ctx)
	if err != nil {
		return TriggerStatus{}, err
	}
	st := TriggerStatus{Installed: s.trigger.Installed()}
	if ok {
		st.Running = true
		st.StartedAt = started
		st.ExpiresAt = started.Add(s.ceiling)
	}
	return st, nil
}
