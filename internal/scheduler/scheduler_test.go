package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneymoves/engine/internal/store"
)

type countingJob struct {
	name    string
	started chan struct{}
	release chan struct{}
	calls   int32
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run(ctx context.Context) error {
	atomic.AddInt32(&j.calls, 1)
	if j.started != nil {
		j.started <- struct{}{}
	}
	if j.release != nil {
		<-j.release
	}
	return nil
}

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, zerolog.Nop())
}

func TestAddJob_PersistsScheduledTaskRow(t *testing.T) {
	s := testScheduler(t)
	ctx := context.Background()

	job := &countingJob{name: "test_job"}
	require.NoError(t, s.AddJob(ctx, "@every 1h", job))

	tasks, err := s.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "test_job", tasks[0].Name)
	assert.Equal(t, "@every 1h", tasks[0].CronExpression)
	assert.Equal(t, "active", tasks[0].Status)
}

func TestRunGuarded_SkipsOverlappingRun(t *testing.T) {
	s := testScheduler(t)
	ctx := context.Background()

	job := &countingJob{name: "overlap_job", started: make(chan struct{}), release: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.RunNow(ctx, job)
	}()

	<-job.started // first run is now mid-flight, holding the lock

	// a second concurrent attempt should be dropped, not queued
	require.NoError(t, s.RunNow(ctx, job))

	close(job.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&job.calls))
}

func TestRunGuarded_MarksFailedStatusOnError(t *testing.T) {
	s := testScheduler(t)
	ctx := context.Background()

	failing := jobFunc{name: "always_fails", fn: func(ctx context.Context) error {
		return assertErr
	}}
	require.NoError(t, s.upsertTaskRow(failing.name, "@every 1h"))

	err := s.runGuarded(ctx, failing)
	require.Error(t, err)

	tasks, terr := s.Tasks(ctx)
	require.NoError(t, terr)
	require.Len(t, tasks, 1)
	assert.Equal(t, "failed", tasks[0].Status)
	assert.NotEmpty(t, tasks[0].ErrorLog)
	require.NotNil(t, tasks[0].LastRun)
	assert.WithinDuration(t, time.Now().UTC(), *tasks[0].LastRun, time.Minute)
}

type jobFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (j jobFunc) Name() string                  { return j.name }
func (j jobFunc) Run(ctx context.Context) error { return j.fn(ctx) }

var assertErr = &staticErr{"job exploded"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
