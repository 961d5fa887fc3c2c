// Package scheduler runs cron-driven queue sweeps: on the configured
// schedule, pending generation jobs trigger a worker run if one is not
// already underway.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/common"
	"github.com/melodana/songforge/internal/interfaces"
	"github.com/melodana/songforge/internal/models"
)

// StartFunc kicks off a full generation queue run. It returns an error when
// a worker is already running; the sweep treats that as a skip.
type StartFunc func() error

// Scheduler sweeps the pending queue on a cron schedule
type Scheduler struct {
	cfg    common.SchedulerConfig
	jobs   interfaces.JobStorage
	start  StartFunc
	cron   *cron.Cron
	logger arbor.ILogger
}

// New creates a scheduler; it does nothing until Start is called
func New(cfg common.SchedulerConfig, jobs interfaces.JobStorage, start StartFunc, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		jobs:   jobs,
		start:  start,
		logger: logger,
	}
}

// Start registers the sweep and begins the cron loop. Disabled config is a
// no-op so callers can Start unconditionally.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Debug().Msg("Scheduler disabled")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid scheduler expression %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.cfg.Schedule).Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running sweep to return
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// sweep starts a generation run when pending jobs exist. A run already in
// flight is left alone.
func (s *Scheduler) sweep() {
	pending, err := s.jobs.ListByStatus(context.Background(), models.JobTypeGeneration, models.JobStatusPending)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduler sweep failed to list pending jobs")
		return
	}
	if len(pending) == 0 {
		return
	}

	s.logger.Info().Int("pending", len(pending)).Msg("Scheduler sweep found pending jobs")
	if err := s.start(); err != nil {
		s.logger.Debug().Err(err).Msg("Scheduler sweep skipped")
	}
}
