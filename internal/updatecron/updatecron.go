// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package updatecron schedules periodic update checks for the agent,
// following the single-job cron wrapper shape of the teacher's backup
// scheduler but reduced to one recurring check instead of N backup
// entries.
package updatecron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CheckResult records the outcome of one update-check run.
type CheckResult struct {
	UpdateAvailable bool
	CurrentVersion  string
	LatestVersion   string
	Timestamp       time.Time
	Err             error
}

// CheckFunc performs one update check, returning the latest available
// version or an error.
type CheckFunc func(ctx context.Context) (latestVersion string, err error)

// Scheduler runs CheckFunc on a cron schedule, guarding against overlapping
// runs the way the teacher's backup scheduler guards a single job.
type Scheduler struct {
	cron           *cron.Cron
	logger         *slog.Logger
	currentVersion string
	check          CheckFunc

	mu      sync.Mutex
	running bool
	last    *CheckResult
}

// DefaultSchedule runs the check once every hour.
const DefaultSchedule = "0 * * * *"

// NewScheduler builds a Scheduler. schedule is a standard 5-field cron
// expression; an empty string uses DefaultSchedule.
func NewScheduler(schedule, currentVersion string, check CheckFunc, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		logger:         logger.With("component", "updatecron"),
		currentVersion: currentVersion,
		check:          check,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("updatecron: adding cron schedule %q: %w", schedule, err)
	}
	s.cron = c
	return s, nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("update check scheduler started")
	s.cron.Start()
}

// Stop halts the scheduler, waiting up to ctx's deadline for any in-flight
// check to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("update check scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("update check scheduler stop timed out")
	}
}

// LastResult returns the outcome of the most recent check, or nil if none
// has run yet.
func (s *Scheduler) LastResult() *CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// CheckNow runs a check immediately, outside the cron schedule, skipping
// if one is already in flight.
func (s *Scheduler) CheckNow() { s.run() }

func (s *Scheduler) run() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("update check already running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	latest, err := s.check(ctx)
	result := &CheckResult{
		CurrentVersion: s.currentVersion,
		LatestVersion:  latest,
		Timestamp:      time.Now(),
		Err:            err,
	}
	if err == nil {
		result.UpdateAvailable = latest != "" && latest != s.currentVersion
	}

	if err != nil {
		s.logger.Warn("update check failed", "error", err)
	} else if result.UpdateAvailable {
		s.logger.Info("update available", "current", s.currentVersion, "latest", latest)
	} else {
		s.logger.Debug("no update available", "current", s.currentVersion)
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
}
