package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/verahub/vera-core/internal/expert"
)

const defaultReaperSchedule = "*/5 * * * *"

// Reaper drops expired cache entries and reports how many were removed.
type Reaper interface {
	Reap() int
}

// Scheduler manages periodic maintenance: cache reaping and handler
// health sweeps.
type Scheduler struct {
	cron    *cron.Cron
	reaper  Reaper
	tracker *expert.Tracker
	logger  *slog.Logger
}

// NewScheduler creates a scheduler with the given maintenance targets.
// reaperSchedule is a cron expression; empty means every five minutes.
func NewScheduler(reaper Reaper, tracker *expert.Tracker, reaperSchedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reaperSchedule == "" {
		reaperSchedule = defaultReaperSchedule
	}

	s := &Scheduler{
		cron:    cron.New(),
		reaper:  reaper,
		tracker: tracker,
		logger:  logger,
	}

	if s.reaper != nil {
		if _, err := s.cron.AddFunc(reaperSchedule, s.reapOnce); err != nil {
			return nil, err
		}
	}
	if s.tracker != nil {
		if _, err := s.cron.AddFunc("@every 1m", s.sweepOnce); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// reapOnce drops expired cache entries.
func (s *Scheduler) reapOnce() {
	dropped := s.reaper.Reap()
	if dropped > 0 {
		s.logger.Debug("cache reaper ran", "dropped", dropped)
	}
}

// sweepOnce logs handlers whose recent calls look unhealthy.
func (s *Scheduler) sweepOnce() {
	for name, status := range s.tracker.Status() {
		switch status.Status {
		case "down":
			s.logger.Warn("handler down", "handler", name)
		case "degraded":
			s.logger.Info("handler degraded", "handler", name)
		}
	}
}
