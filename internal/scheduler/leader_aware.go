/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Elector reports leadership. *leadership.Election implements it.
type Elector interface {
	Start(ctx context.Context)
	Stop()
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAwareScheduler runs the scheduler only while this instance is leader.
type LeaderAwareScheduler struct {
	scheduler *Service
	election  Elector
	logger    zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLeaderAware creates a leader-aware scheduler wrapper.
func NewLeaderAware(scheduler *Service, election Elector, logger zerolog.Logger) *LeaderAwareScheduler {
	return &LeaderAwareScheduler{
		scheduler: scheduler,
		election:  election,
		logger:    logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// Start campaigns for leadership and starts or stops the scheduler as
// leadership changes.
func (las *LeaderAwareScheduler) Start(ctx context.Context) {
	las.mu.Lock()
	las.ctx = ctx
	las.mu.Unlock()

	las.logger.Info().Msg("starting leader-aware scheduler")
	las.election.Start(ctx)

	go las.monitorLeadership(ctx)
}

// Stop halts the scheduler and releases leadership.
func (las *LeaderAwareScheduler) Stop() {
	las.logger.Info().Msg("stopping leader-aware scheduler")
	las.stopScheduler()
	las.election.Stop()
}

// IsLeader reports whether this instance is the leader.
func (las *LeaderAwareScheduler) IsLeader() bool {
	return las.election.IsLeader()
}

// Trigger forwards to the scheduler. Followers ignore triggers.
func (las *LeaderAwareScheduler) Trigger() bool {
	if !las.election.IsLeader() {
		return false
	}
	return las.scheduler.Trigger()
}

func (las *LeaderAwareScheduler) monitorLeadership(ctx context.Context) {
	if las.election.IsLeader() {
		las.startScheduler()
	}

	for {
		select {
		case <-ctx.Done():
			las.stopScheduler()
			return
		case isLeader := <-las.election.LeaderCh():
			if isLeader {
				las.logger.Info().Msg("became leader, starting scheduler")
				las.startScheduler()
			} else {
				las.logger.Warn().Msg("lost leadership, stopping scheduler")
				las.stopScheduler()
			}
		}
	}
}

func (las *LeaderAwareScheduler) startScheduler() {
	las.mu.Lock()
	defer las.mu.Unlock()
	if las.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(las.ctx)
	done := make(chan struct{})
	las.cancel, las.stopped = cancel, done

	go func() {
		defer close(done)
		las.logger.Info().Msg("scheduler started")
		if err := las.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			las.logger.Error().Err(err).Msg("scheduler error")
		}
		las.logger.Info().Msg("scheduler stopped")
	}()
}

// stopScheduler cancels the running scheduler and waits for its cycle to end.
func (las *LeaderAwareScheduler) stopScheduler() {
	las.mu.Lock()
	cancel, done := las.cancel, las.stopped
	las.cancel, las.stopped = nil, nil
	las.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
