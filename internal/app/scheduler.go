/**
 * @description
 * Cron scheduler setup for the checkout housekeeping jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleConfig holds the cron expressions for each job.
type ScheduleConfig struct {
	SessionSweep string
	ManualExpiry string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config ScheduleConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg ScheduleConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.SessionSweep, s.jobs.SweepIdleSessions); err != nil {
		s.logger.Error("failed to schedule session sweep job", "error", err)
	} else {
		s.logger.Info("scheduled session sweep job", "schedule", s.config.SessionSweep)
	}

	if _, err := s.cron.AddFunc(s.config.ManualExpiry, s.jobs.ExpireStaleManualRequests); err != nil {
		s.logger.Error("failed to schedule manual request expiry job", "error", err)
	} else {
		s.logger.Info("scheduled manual request expiry job", "schedule", s.config.ManualExpiry)
	}

	s.cron.Start()
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports how many jobs were registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
