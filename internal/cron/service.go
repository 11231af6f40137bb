package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/metrics"
)

const defaultInterval = time.Minute

// ServiceParams configure one scheduler loop. Each loop owns its lock, so
// loops with different cadences never block each other.
type ServiceParams struct {
	Name     string
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs its registered jobs sequentially on a fixed cadence. A cycle
// that outlasts the interval delays the next tick instead of overlapping it.
type Service struct {
	name     string
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	name := params.Name
	if name == "" {
		name = "cron"
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		name:     name,
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

func (s *Service) Name() string { return s.name }

// Run starts the loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"scheduler": s.name,
		"interval":  s.interval.String(),
	})
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

// RunJob runs a single registered job under the scheduler lock.
func (s *Service) RunJob(ctx context.Context, name string) error {
	job := s.registry.Lookup(name)
	if job == nil {
		return fmt.Errorf("job %q not registered with %s", name, s.name)
	}
	return s.locked(ctx, func() {
		s.runJob(ctx, job)
	})
}

func (s *Service) runCycle(ctx context.Context) error {
	return s.locked(ctx, func() {
		for _, job := range s.registry.Jobs() {
			if ctx.Err() != nil {
				return
			}
			s.runJob(ctx, job)
		}
	})
}

func (s *Service) locked(ctx context.Context, fn func()) error {
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !ok {
		s.metrics.IncSkipped(s.name)
		s.logg.Info(ctx, "another instance holds the scheduler lock; skipping this cycle")
		return nil
	}
	defer func() {
		// Release even when shutdown cancelled ctx mid-cycle.
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()
	fn()
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveJob(s.name, job.Name(), duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
