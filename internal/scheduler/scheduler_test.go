package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hypergraphlabs/meridian/internal/clock"
	"github.com/hypergraphlabs/meridian/internal/pause"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSubs struct {
	subdomain.Service

	trialSweeps  int
	cancelSweeps int
	trialErr     error
}

func (s *stubSubs) SweepTrialExpirations(_ context.Context, _ int) (int, error) {
	s.trialSweeps++
	return 1, s.trialErr
}

func (s *stubSubs) SweepPeriodCancellations(_ context.Context, _ int) (int, error) {
	s.cancelSweeps++
	return 0, nil
}

type stubPause struct {
	pause.Service

	resumeSweeps int
	resumeErr    error
}

func (s *stubPause) SweepDueResumes(_ context.Context, _ int) (int, error) {
	s.resumeSweeps++
	return 2, s.resumeErr
}

func newScheduler(t *testing.T, subs *stubSubs, pauseSvc *stubPause, cfg Config) *Scheduler {
	t.Helper()
	sched, err := New(Params{
		Log:    zap.NewNop(),
		Subs:   subs,
		Pause:  pauseSvc,
		Clock:  clock.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
		Config: cfg,
	})
	require.NoError(t, err)
	return sched
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsAllSweeps(t *testing.T) {
	subs := &stubSubs{}
	pauseSvc := &stubPause{}
	sched := newScheduler(t, subs, pauseSvc, Config{})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1, pauseSvc.resumeSweeps)
	assert.Equal(t, 1, subs.trialSweeps)
	assert.Equal(t, 1, subs.cancelSweeps)
}

func TestRunOnceIsolatesJobFailures(t *testing.T) {
	subs := &stubSubs{trialErr: errors.New("boom")}
	pauseSvc := &stubPause{}
	sched := newScheduler(t, subs, pauseSvc, Config{})

	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trial_expiry_sweep")

	// The failing job did not stop the rest.
	assert.Equal(t, 1, pauseSvc.resumeSweeps)
	assert.Equal(t, 1, subs.cancelSweeps)
}

func TestEnabledJobsFilter(t *testing.T) {
	subs := &stubSubs{}
	pauseSvc := &stubPause{}
	sched := newScheduler(t, subs, pauseSvc, Config{
		EnabledJobs: []string{"pause_resume_sweep"},
	})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1, pauseSvc.resumeSweeps)
	assert.Equal(t, 0, subs.trialSweeps)
	assert.Equal(t, 0, subs.cancelSweeps)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	subs := &stubSubs{}
	pauseSvc := &stubPause{}
	sched := newScheduler(t, subs, pauseSvc, Config{RunInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.RunForever(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunForever did not stop after cancel")
	}

	assert.GreaterOrEqual(t, pauseSvc.resumeSweeps, 1)
}
