// Package scheduler runs the tuning job on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Job func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	job     Job
	running atomic.Bool
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

func (s *Scheduler) SetJob(j Job) {
	s.job = j
}

// Start registers the job under spec (standard five-field cron, UTC) and
// starts the scheduler. A trigger that fires while the previous run is
// still going is skipped.
func (s *Scheduler) Start(spec string) error {
	if s.job == nil {
		return errors.New("scheduler: job not set")
	}

	if _, err := s.cron.AddFunc(spec, s.trigger); err != nil {
		return fmt.Errorf("scheduler: bad schedule %q: %w", spec, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) trigger() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in progress, skipping trigger")
		return
	}
	defer s.running.Store(false)

	s.logger.Info("scheduled run triggered")
	if err := s.job(s.ctx); err != nil {
		s.logger.Error("scheduled run failed", zap.Error(err))
	}
}

// Stop cancels an in-flight job and waits for it to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}

// Next returns the next activation time, or zero when nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
