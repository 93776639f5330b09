// Package cron runs the scheduled billing jobs.
package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"membership_backend/internal/billing"
	"membership_backend/pkg/config"
	"membership_backend/pkg/logger"
)

// jobTimeout bounds a single run so a stuck processor call cannot pin the job.
const jobTimeout = 30 * time.Minute

// Jobs is the part of billing.Service run on a schedule.
type Jobs interface {
	SweepCancellations(ctx context.Context, now time.Time) (billing.JobResult, error)
	SendReenrollmentFeeNotices(ctx context.Context, now time.Time, leadDays int) (billing.JobResult, error)
	SendRenewalNotices(ctx context.Context, now time.Time, leadDays int) (billing.JobResult, error)
}

type Scheduler struct {
	cron   *cron.Cron
	jobs   Jobs
	cfg    config.JobsConfig
	logger *logger.Logger
	now    func() time.Time
}

// NewScheduler registers every job whose schedule is not config.JobDisabled.
// Overlapping runs of the same job are skipped.
func NewScheduler(jobs Jobs, cfg config.JobsConfig, log *logger.Logger) (*Scheduler, error) {
	log = log.Named("cron")
	cronLog := cron.PrintfLogger(zap.NewStdLog(log.Desugar()))

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		jobs:   jobs,
		cfg:    cfg,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}

	schedules := []struct {
		name string
		spec string
		run  func(context.Context) (billing.JobResult, error)
	}{
		{"cancellation_sweep", cfg.CancellationSweep, s.sweepCancellations},
		{"reenrollment_notices", cfg.ReenrollmentNotices, s.reenrollmentNotices},
		{"renewal_notices", cfg.RenewalNotices, s.renewalNotices},
	}

	for _, job := range schedules {
		if job.spec == config.JobDisabled {
			log.Infow("job disabled", "job", job.name)
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, err
		}
		log.Infow("job scheduled", "job", job.name, "spec", job.spec)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context that is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) wrap(name string, run func(context.Context) (billing.JobResult, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		started := time.Now()
		result, err := run(ctx)
		if err != nil {
			s.logger.Errorw("job failed", "job", name, "error", err)
			return
		}
		s.logger.Infow("job finished",
			"job", name,
			"processed", result.Processed,
			"failed", result.Failed,
			"duration", time.Since(started),
		)
	}
}

func (s *Scheduler) sweepCancellations(ctx context.Context) (billing.JobResult, error) {
	return s.jobs.SweepCancellations(ctx, s.now())
}

func (s *Scheduler) reenrollmentNotices(ctx context.Context) (billing.JobResult, error) {
	return s.jobs.SendReenrollmentFeeNotices(ctx, s.now(), s.cfg.NoticeLeadDays)
}

func (s *Scheduler) renewalNotices(ctx context.Context) (billing.JobResult, error) {
	return s.jobs.SendRenewalNotices(ctx, s.now(), s.cfg.RenewalLeadDays)
}
