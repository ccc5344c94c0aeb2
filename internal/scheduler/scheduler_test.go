package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm-platform/internal/config"
	"mlm-platform/internal/pkg/metrics"
	"mlm-platform/internal/service"
)

type fakeReferrals struct {
	calls  atomic.Int32
	report service.BatchReport
	err    error
}

func (f *fakeReferrals) ProcessAllPending(_ context.Context, force bool) (*service.BatchReport, error) {
	f.calls.Add(1)
	if force {
		return nil, errors.New("scheduled runs must not force")
	}
	r := f.report
	return &r, f.err
}

type fakeWallets struct {
	calls  atomic.Int32
	report service.SyncReport
}

func (f *fakeWallets) SyncWalletBalances(context.Context) (service.SyncReport, error) {
	f.calls.Add(1)
	return f.report, nil
}

type fakeAccounts struct {
	calls atomic.Int32
}

func (f *fakeAccounts) AutoBlockExpired(ctx context.Context) (int, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("job context has no deadline")
	}
	return 0, nil
}

func newTestScheduler(cfg config.SchedulerConfig) (*Scheduler, *fakeReferrals, *fakeWallets, *fakeAccounts) {
	r, w, a := &fakeReferrals{}, &fakeWallets{}, &fakeAccounts{}
	return New(cfg, r, w, a, metrics.New()), r, w, a
}

func TestRun_DispatchesByName(t *testing.T) {
	s, r, w, a := newTestScheduler(config.SchedulerConfig{})
	ctx := context.Background()

	require.NoError(t, s.Run(ctx, JobPendingReferral))
	require.NoError(t, s.Run(ctx, JobWalletSync))
	require.NoError(t, s.Run(ctx, JobAutoBlock))

	assert.EqualValues(t, 1, r.calls.Load())
	assert.EqualValues(t, 1, w.calls.Load())
	assert.EqualValues(t, 1, a.calls.Load())

	assert.Error(t, s.Run(ctx, "nope"))
	assert.Equal(t, []string{JobAutoBlock, JobPendingReferral, JobWalletSync}, s.Jobs())
}

func TestRun_PartialFailuresAreErrors(t *testing.T) {
	s, r, w, _ := newTestScheduler(config.SchedulerConfig{})
	ctx := context.Background()

	r.report.Errors = 2
	assert.Error(t, s.Run(ctx, JobPendingReferral))

	w.report.Errors = 1
	assert.Error(t, s.Run(ctx, JobWalletSync))

	r.report.Errors = 0
	r.err = errors.New("db down")
	assert.ErrorContains(t, s.Run(ctx, JobPendingReferral), "db down")
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	s, _, _, _ := newTestScheduler(config.SchedulerConfig{PendingReferral: "not a schedule"})
	assert.Error(t, s.Start())
}

func TestStart_RunsScheduledJobs(t *testing.T) {
	s, _, w, a := newTestScheduler(config.SchedulerConfig{WalletSync: "@every 1s"})
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return w.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	assert.EqualValues(t, 0, a.calls.Load(), "jobs without a schedule stay off")
}
