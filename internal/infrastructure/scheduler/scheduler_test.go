package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-hub/bloom-progress/pkg/logger"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
	panic bool
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func newTestScheduler(cfg Config) *Scheduler {
	cfg.Logger = logger.Discard()
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	return New(cfg)
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(12 * time.Hour)
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, base.Add(12*time.Hour), s.Next(base))
	assert.Equal(t, "@every 12h0m0s", s.String())
	assert.Equal(t, time.Second, NewIntervalSchedule(0).Interval)
}

func TestRegister(t *testing.T) {
	s := newTestScheduler(Config{})
	job := &countingJob{name: "sweep"}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "x"}, nil), ErrNilSchedule)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "sweep", jobs[0].Name)
	assert.Equal(t, "@every 1h0m0s", jobs[0].Schedule)
}

func TestRunOnStart(t *testing.T) {
	s := newTestScheduler(Config{RunOnStart: true})
	job := &countingJob{name: "sweep"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	assert.Equal(t, int32(1), job.runs.Load())
	info := s.ListJobs()[0]
	assert.Equal(t, int64(1), info.RunCount)
	require.NotNil(t, info.LastResult)
	assert.True(t, info.LastResult.Success)
}

func TestDueJobRunsOnTick(t *testing.T) {
	s := newTestScheduler(Config{})
	job := &countingJob{name: "sweep"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	// Pretend the hour has passed.
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler(Config{})
	failing := &countingJob{name: "failing", err: errors.New("store down")}
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "failing")
	assert.EqualError(t, err, "store down")
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)
	assert.Equal(t, int64(1), s.ListJobs()[0].FailCount)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunNow_RejectsOverlap(t *testing.T) {
	s := newTestScheduler(Config{})
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunNow(context.Background(), "slow")
	}()
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(job.block)
	<-done
}

func TestJobTimeoutAndPanic(t *testing.T) {
	s := newTestScheduler(Config{JobTimeout: 20 * time.Millisecond})
	slow := &countingJob{name: "slow", block: make(chan struct{})}
	bad := &countingJob{name: "bad", panic: true}
	require.NoError(t, s.Register(slow, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(bad, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = s.RunNow(context.Background(), "bad")
	assert.ErrorContains(t, err, "panicked")
}
