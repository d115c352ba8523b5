// Package jobs runs periodic background work on cron schedules.
package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cloo-solutions/carecontext/internal/logging"
	"github.com/cloo-solutions/carecontext/internal/telemetry"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on five-field cron specs. A run that is still in
// progress when its next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID

	mu  sync.RWMutex
	ctx context.Context
}

func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}
}

// AddJob registers job under spec. Must be called before Start.
func (s *Scheduler) AddJob(job Job, spec string) error {
	logger := logging.GetLogger(context.Background()).With(zap.String("job", job.Name()), zap.String("spec", spec))
	id, err := s.cron.AddFunc(spec, s.wrap(job, spec))
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	s.entries[job.Name()] = id
	logger.Info("job scheduled")
	return nil
}

// Start begins running scheduled jobs with ctx as their parent context.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logging.GetLogger(context.Background()).Info("scheduler shutdown complete")
}

// Next returns the next activation time of a registered job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) parentContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *Scheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		logger := logging.GetLogger(context.Background()).With(zap.String("job", job.Name()), zap.String("spec", spec))
		if !running.CompareAndSwap(false, true) {
			logger.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		ctx := logging.WithLogger(s.parentContext(), logger)
		ctx, span := telemetry.StartTransaction(ctx, "job "+job.Name(), "job")
		defer span.End()

		start := time.Now()
		logger.Info("job started")
		if err := job.Run(ctx); err != nil {
			span.SetError(err)
			telemetry.CaptureError(ctx, err)
			logger.Error("job finished", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		logger.Info("job finished", zap.Duration("duration", time.Since(start)))
	}
}
