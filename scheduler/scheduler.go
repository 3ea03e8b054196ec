// Package scheduler wires the indicator pipeline's beat cadence. The beat
// itself only enqueues work; everything stateful lives in the lock cache and
// the task queue, so overlapping or restarted schedulers are harmless.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"crypto_indicators_backend/services/indicators"
)

// Scheduler manages the periodic beat dispatch
type Scheduler struct {
	cron   *gocron.Scheduler
	runner *indicators.TaskRunner
	logger *logrus.Logger
}

// NewScheduler creates a new scheduler instance
func NewScheduler(runner *indicators.TaskRunner, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		runner: runner,
		logger: logger,
	}
}

// Start registers the beat cadence and starts the scheduler
func (s *Scheduler) Start(cronExpr string) error {
	_, err := s.cron.Cron(cronExpr).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.runner.EnqueueBeat(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to enqueue beat task")
		}
	})
	if err != nil {
		return err
	}

	s.cron.StartAsync()
	s.logger.WithField("cron", cronExpr).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("Scheduler stopped")
}
