package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"SeriesHarvester/internal/logger"
)

// Job is one harvest run.
type Job func(ctx context.Context)

// Scheduler triggers the harvest job on a cron schedule. Runs never overlap:
// a tick that fires while a run is in progress is skipped.
type Scheduler struct {
	Cron    *cron.Cron
	Ctx     context.Context
	job     Job
	running atomic.Bool
	async   sync.WaitGroup
	log     *logger.Entry
}

// NewScheduler creates a new Scheduler. Cron expressions include a seconds field.
func NewScheduler(ctx context.Context, job Job) *Scheduler {
	return &Scheduler{
		Cron: cron.New(cron.WithSeconds()),
		Ctx:  ctx,
		job:  job,
		log:  logger.GetLogger().WithComponent("scheduler"),
	}
}

// Register schedules the job at the cron expression expr.
func (s *Scheduler) Register(expr string) error {
	if _, err := s.Cron.AddFunc(expr, func() { s.RunNow() }); err != nil {
		return fmt.Errorf("register harvest task %q: %w", expr, err)
	}
	s.log.WithField("cron", expr).Info("harvest task registered")
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs to finish,
// including those started by RunAsync.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.async.Wait()
	s.log.Info("scheduler stopped")
}

// RunAsync runs the job in the background. Stop waits for it.
func (s *Scheduler) RunAsync() {
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		s.RunNow()
	}()
}

// RunNow executes the job immediately unless a run is already in progress.
// It reports whether the job ran.
func (s *Scheduler) RunNow() bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous run still in progress, skipping")
		return false
	}
	defer s.running.Store(false)

	s.log.Info("running harvest task")
	s.job(s.Ctx)
	return true
}
