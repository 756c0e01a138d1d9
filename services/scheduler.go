// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartReconcileScheduler reconciles every owner with persisted grants on a
// fixed interval, starting immediately. Passes never overlap; a pass still
// running when the next is due pushes that run back. Call Shutdown on the
// returned scheduler to stop it.
func (s *AccessService) StartReconcileScheduler(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			done, err := s.ReconcileOwners(ctx)
			if err != nil {
				s.logger.Warn("[Scheduler] reconcile pass finished with errors",
					zap.Int("owners", done),
					zap.Error(err),
				)
				return
			}
			s.logger.Info("[Scheduler] reconcile pass done",
				zap.Int("owners", done),
				zap.Duration("took", time.Since(start)),
			)
		}),
		gocron.WithName("access-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	return sched, nil
}
