// Package cron runs the recurring billing sweeps.
package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fundpage_backend/internal/billing"
)

// Scheduler owns the cron runner for the billing sweeps. Each sweep is
// wrapped with SkipIfStillRunning so a slow pass never overlaps itself.
type Scheduler struct {
	recovery *billing.Recovery
	runner   *cron.Cron
	log      *zap.Logger
}

func NewScheduler(recovery *billing.Recovery, log *zap.Logger) *Scheduler {
	return &Scheduler{
		recovery: recovery,
		runner:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:      log,
	}
}

// Start registers the sweeps and starts the runner. Grace warnings and
// expirations both run hourly, warnings first so a subscription expiring
// within the hour still gets its notice.
func (s *Scheduler) Start() error {
	if _, err := s.runner.AddFunc("0 * * * *", s.sweepGraceWarnings); err != nil {
		return err
	}
	if _, err := s.runner.AddFunc("30 * * * *", s.sweepExpiredGrace); err != nil {
		return err
	}
	s.runner.Start()
	s.log.Info("billing sweeps scheduled")
	return nil
}

// Stop halts the runner and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.runner.Stop()
	<-ctx.Done()
}

func (s *Scheduler) sweepGraceWarnings() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sent, err := s.recovery.SendGracePeriodWarnings(ctx)
	if err != nil {
		s.log.Error("grace warning sweep failed", zap.Error(err))
		return
	}
	if sent > 0 {
		s.log.Info("grace warnings sent", zap.Int("count", sent))
	}
}

func (s *Scheduler) sweepExpiredGrace() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	expired, err := s.recovery.ExpireLapsedGracePeriods(ctx)
	if err != nil {
		s.log.Error("grace expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.log.Info("lapsed grace periods expired", zap.Int("count", expired))
	}
}
