/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs pinning cycles on the configured interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/config"
	"github.com/friendsincode/collexions/internal/ledger"
	"github.com/friendsincode/collexions/internal/pinning"
	"github.com/friendsincode/collexions/internal/status"
	"github.com/friendsincode/collexions/internal/telemetry"
)

// Runner executes one pinning run.
type Runner interface {
	Run(ctx context.Context, opts pinning.RunOptions) (*pinning.Report, error)
}

// IntervalFunc returns the time between cycles. It is called once per cycle
// so settings edits apply without a restart.
type IntervalFunc func() time.Duration

// Service orchestrates pinning cycles.
type Service struct {
	runner   Runner
	interval IntervalFunc
	tracker  *status.Tracker
	logger   zerolog.Logger
	now      func() time.Time
	trigger  chan struct{}

	mu         sync.Mutex
	hooks      []func(context.Context)
	lastReport *pinning.Report
	lastErr    error
	nextRun    time.Time
}

// New constructs the scheduler service. A nil interval uses the default
// pinning interval.
func New(runner Runner, interval IntervalFunc, tracker *status.Tracker, logger zerolog.Logger) *Service {
	if interval == nil {
		interval = func() time.Duration { return config.DefaultPinningInterval }
	}
	return &Service{
		runner:   runner,
		interval: interval,
		tracker:  tracker,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// OnCycle registers fn to run after every cycle.
func (s *Service) OnCycle(fn func(context.Context)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Trigger wakes the loop for an immediate cycle. It never blocks; a trigger
// that arrives while one is pending is merged with it. Reports whether the
// trigger was queued.
func (s *Service) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes a cycle immediately and then one per interval until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Msg("scheduler loop started")
	for {
		interval := s.interval()
		if interval <= 0 {
			interval = config.DefaultPinningInterval
		}
		next := s.now().Add(interval)

		s.cycle(ctx, next)
		if ctx.Err() != nil {
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		}

		s.setNextRun(next)
		s.logger.Info().Time("next_run", next).Dur("interval", interval).Msg("sleeping until next cycle")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		case <-s.trigger:
			timer.Stop()
			s.logger.Info().Msg("manual trigger received")
		case <-timer.C:
		}
	}
}

func (s *Service) cycle(ctx context.Context, next time.Time) {
	telemetry.SchedulerTicksTotal.Inc()
	runID := uuid.NewString()

	report, err := s.runner.Run(ctx, pinning.RunOptions{RunID: runID, NextRun: next})

	s.mu.Lock()
	s.lastReport, s.lastErr = report, err
	hooks := append(([]func(context.Context))(nil), s.hooks...)
	s.mu.Unlock()

	switch {
	case err == nil:
		s.updateStatus(status.StateSleeping, next)
	case errors.Is(err, ledger.ErrLocked):
		telemetry.SchedulerErrorsTotal.WithLabelValues("locked").Inc()
		s.logger.Warn().Str("run_id", runID).Msg("cycle skipped, ledger locked by another run")
		s.updateStatus(status.StateSleeping, next)
	case ctx.Err() != nil:
		return
	default:
		telemetry.SchedulerErrorsTotal.WithLabelValues("run").Inc()
		s.logger.Error().Err(err).Str("run_id", runID).Msg("pinning cycle failed")
		// Keep the error state visible until the next cycle.
		s.updateStatus(s.currentState(), next)
	}

	for _, hook := range hooks {
		hook(ctx)
	}
}

// LastReport returns the most recent cycle's report and error.
func (s *Service) LastReport() (*pinning.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport, s.lastErr
}

// NextRun returns when the loop will wake next. Zero before the first cycle.
func (s *Service) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Service) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

func (s *Service) updateStatus(state string, next time.Time) {
	if s.tracker != nil {
		s.tracker.Update(state, next)
	}
}

func (s *Service) currentState() string {
	if s.tracker == nil {
		return status.StateSleeping
	}
	return s.tracker.Current().Status
}
