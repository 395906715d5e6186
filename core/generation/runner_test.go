package generation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/somo/core"
	logsvc "github.com/trezcool/somo/services/logger"
)

func testLogger() core.Logger {
	return logsvc.NewDiscardLogger(&core.Config{TestMode: true})
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	r := NewRunner(2, time.Minute, testLogger())

	var running, maxRunning int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		err := r.Submit(id, func(ctx context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
		})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, r.Active())
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&maxRunning))
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, 0, r.Active())
}

func TestRunner_Cancel(t *testing.T) {
	r := NewRunner(1, time.Minute, testLogger())

	started := make(chan struct{})
	result := make(chan error, 1)
	require.NoError(t, r.Submit("job", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
	}))
	assert.Error(t, r.Submit("job", func(context.Context) {}), "a job is submitted once")

	<-started
	assert.True(t, r.Cancel("job"))
	assert.Equal(t, context.Canceled, <-result)
	assert.False(t, r.Cancel("unknown"))
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(1, 20*time.Millisecond, testLogger())

	result := make(chan error, 1)
	require.NoError(t, r.Submit("job", func(ctx context.Context) {
		<-ctx.Done()
		result <- ctx.Err()
	}))

	assert.Equal(t, context.DeadlineExceeded, <-result)
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_RecoversPanics(t *testing.T) {
	r := NewRunner(1, time.Minute, testLogger())

	require.NoError(t, r.Submit("panic", func(context.Context) { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, r.Submit("next", func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("the runner did not survive a panicking job")
	}
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_Shutdown(t *testing.T) {
	r := NewRunner(1, time.Minute, testLogger())

	started := make(chan struct{})
	require.NoError(t, r.Submit("stuck", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, r.Shutdown(ctx))
	assert.Equal(t, ErrRunnerClosed, r.Submit("late", func(context.Context) {}))
}
