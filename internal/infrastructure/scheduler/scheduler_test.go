package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name string
	runs atomic.Int32
	fn   func(ctx context.Context) error
}

func (j *fakeJob) Name() string        { return j.name }
func (j *fakeJob) Description() string { return "test job " + j.name }
func (j *fakeJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.fn != nil {
		return j.fn(ctx)
	}
	return nil
}

func TestRegister(t *testing.T) {
	s := New(DefaultConfig())

	require.NoError(t, s.Register(&fakeJob{name: "a"}, "@every 1h"))
	assert.ErrorIs(t, s.Register(&fakeJob{name: "a"}, "@every 1h"), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, "@every 1h"), ErrNilJob)
	assert.Error(t, s.Register(&fakeJob{name: "b"}, "not a cron spec"))

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "@every 1h", jobs[0].Schedule)
}

func TestRunNow(t *testing.T) {
	s := New(DefaultConfig())
	ok := &fakeJob{name: "ok"}
	bad := &fakeJob{name: "bad", fn: func(context.Context) error { return errors.New("boom") }}
	require.NoError(t, s.Register(ok, "@every 1h"))
	require.NoError(t, s.Register(bad, "@every 1h"))

	var completed []string
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r.JobName) })

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	res, err = s.RunNow(context.Background(), "bad")
	require.Error(t, err)
	assert.False(t, res.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Equal(t, []string{"ok", "bad"}, completed)
	hist := s.History(0)
	require.Len(t, hist, 2)
	assert.Equal(t, "bad", hist[1].JobName)
	assert.Len(t, s.History(1), 1)
}

func TestRunNow_RecoversPanics(t *testing.T) {
	s := New(DefaultConfig())
	require.NoError(t, s.Register(&fakeJob{name: "p", fn: func(context.Context) error { panic("oops") }}, "@every 1h"))

	_, err := s.RunNow(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestHistoryIsBounded(t *testing.T) {
	s := New(Config{MaxHistorySize: 2})
	require.NoError(t, s.Register(&fakeJob{name: "j"}, "@every 1h"))
	for i := 0; i < 5; i++ {
		_, err := s.RunNow(context.Background(), "j")
		require.NoError(t, err)
	}
	assert.Len(t, s.History(0), 2)
}

func TestStartStop(t *testing.T) {
	s := New(DefaultConfig())
	job := &fakeJob{name: "tick"}
	require.NoError(t, s.Register(job, "@every 1s"))

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return job.runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.ErrorIs(t, s.Stop(ctx), ErrSchedulerNotRunning)
}
