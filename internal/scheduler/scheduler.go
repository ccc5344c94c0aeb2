// Package scheduler runs the platform's batch jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"mlm-platform/internal/config"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/service"
)

// Job names, also used as metric labels.
const (
	JobPendingReferral = "pending_referral"
	JobWalletSync      = "wallet_sync"
	JobAutoBlock       = "auto_block"
)

// jobTimeout bounds a single run so a stuck query cannot pin a job forever.
const jobTimeout = 10 * time.Minute

// ReferralProcessor retries referral income that is pending or failed.
type ReferralProcessor interface {
	ProcessAllPending(ctx context.Context, force bool) (*service.BatchReport, error)
}

// WalletSyncer repairs wallet balances from the ledger.
type WalletSyncer interface {
	SyncWalletBalances(ctx context.Context) (service.SyncReport, error)
}

// AccountBlocker blocks members past the activation deadline.
type AccountBlocker interface {
	AutoBlockExpired(ctx context.Context) (int, error)
}

type job struct {
	schedule string
	run      func(ctx context.Context) error
}

// Scheduler owns the cron runner and the job table.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]job
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a scheduler for the three platform jobs.
func New(cfg config.SchedulerConfig, referrals ReferralProcessor, wallets WalletSyncer, accounts AccountBlocker, m *metrics.Metrics) *Scheduler {
	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}

	s.jobs = map[string]job{
		JobPendingReferral: {schedule: cfg.PendingReferral, run: func(ctx context.Context) error {
			report, err := referrals.ProcessAllPending(ctx, false)
			if err != nil {
				return err
			}
			if report.Errors > 0 {
				return fmt.Errorf("%d activations failed", report.Errors)
			}
			return nil
		}},
		JobWalletSync: {schedule: cfg.WalletSync, run: func(ctx context.Context) error {
			report, err := wallets.SyncWalletBalances(ctx)
			if err != nil {
				return err
			}
			if report.Errors > 0 {
				return fmt.Errorf("%d wallets failed to sync", report.Errors)
			}
			return nil
		}},
		JobAutoBlock: {schedule: cfg.AutoBlock, run: func(ctx context.Context) error {
			_, err := accounts.AutoBlockExpired(ctx)
			return err
		}},
	}
	return s
}

// Start registers every job with a non-empty schedule and starts the runner.
func (s *Scheduler) Start() error {
	for _, name := range s.Jobs() {
		j := s.jobs[name]
		if j.schedule == "" {
			log.Info().Str("job", name).Msg("Job disabled: no schedule")
			continue
		}
		name := name
		if _, err := s.cron.AddFunc(j.schedule, func() { _ = s.Run(s.ctx, name) }); err != nil {
			return fmt.Errorf("failed to add %s job: %w", name, err)
		}
		log.Info().Str("job", name).Str("schedule", j.schedule).Msg("Job scheduled")
	}

	s.cron.Start()
	log.Info().Msg("Cron scheduler started")
	return nil
}

// Stop halts the runner, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	log.Info().Msg("Cron scheduler stopped")
}

// Run executes one job immediately and records its outcome.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	started := time.Now()
	err := j.run(ctx)
	s.metrics.ObserveJob(name, started, err)

	if err != nil {
		log.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(started)).Msg("Job failed")
		return err
	}
	log.Debug().Str("job", name).Dur("elapsed", time.Since(started)).Msg("Job finished")
	return nil
}

// Jobs returns the job names in a stable order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
