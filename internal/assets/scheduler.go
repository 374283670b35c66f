package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	pkgerrors "xrayclient/pkg/errors"
)

// UpdateRunner runs one update session.
type UpdateRunner interface {
	Update(ctx context.Context) error
}

// Scheduler handles automatic asset updates
type Scheduler struct {
	scheduler gocron.Scheduler
	runner    UpdateRunner
	interval  time.Duration
	log       *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a new asset update scheduler. A non-positive
// interval disables it.
func NewScheduler(runner UpdateRunner, interval time.Duration, log *zap.Logger) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Scheduler{
		scheduler: scheduler,
		runner:    runner,
		interval:  interval,
		log:       log,
	}, nil
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.interval <= 0 {
		s.log.Debug("scheduled asset updates disabled")
		return nil
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.runUpdate(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create update job: %w", err)
	}

	s.scheduler.Start()
	s.running = true
	s.log.Info("scheduled asset updates", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.running = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runUpdate(ctx context.Context) {
	err := s.runner.Update(ctx)
	switch {
	case err == nil:
		s.log.Info("scheduled asset update finished")
	case errors.Is(err, pkgerrors.ErrUpdateInProgress):
		s.log.Debug("asset update already running, skipping")
	default:
		s.log.Warn("scheduled asset update failed", zap.Error(err))
	}
}
