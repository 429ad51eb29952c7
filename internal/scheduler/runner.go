package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// RenewalProcessor applies subscription changes that take effect at the end
// of a billing period.
type RenewalProcessor interface {
	ProcessRenewals(ctx context.Context, now time.Time) (int, error)
}

// Runner drives the scheduler and renewal processing on a fixed interval.
type Runner struct {
	sched  gocron.Scheduler
	logger *slog.Logger
}

func NewRunner(s *Scheduler, renewals RenewalProcessor, interval time.Duration, logger *slog.Logger) (*Runner, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			now := s.now()
			if _, err := s.Tick(ctx, now); err != nil {
				logger.Error("scheduler tick", "error", err)
			}
			if renewals == nil {
				return
			}
			n, err := renewals.ProcessRenewals(ctx, now)
			if err != nil {
				logger.Error("process renewals", "error", err)
			} else if n > 0 {
				logger.Info("renewals processed", "count", n)
			}
		}),
		gocron.WithName("chore-scheduler"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		sched.Shutdown()
		return nil, fmt.Errorf("schedule tick job: %w", err)
	}

	return &Runner{sched: sched, logger: logger}, nil
}

func (r *Runner) Start() {
	r.sched.Start()
	r.logger.Info("scheduler started")
}

func (r *Runner) Shutdown() error {
	return r.sched.Shutdown()
}
