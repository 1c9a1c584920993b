package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	pool := NewWorkerPool(testLogger(), domain.PoolConfig{Name: "test", CoreSize: 2, MaxSize: 2, QueueCapacity: 10})
	defer pool.Shutdown(context.Background())

	var running, peak int32
	var wg sync.WaitGroup

	totalJobs := 5
	wg.Add(totalJobs)
	for i := 0; i < totalJobs; i++ {
		err := pool.Submit(func(ctx context.Context) {
			defer wg.Done()
			current := atomic.AddInt32(&running, 1)
			for {
				max := atomic.LoadInt32(&peak)
				if current <= max || atomic.CompareAndSwapInt32(&peak, max, current) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2), "should not exceed max concurrency")
	assert.Greater(t, atomic.LoadInt32(&peak), int32(0))
}

// blockingTask starts, signals started, and waits for release.
func blockingTask(started chan<- string, release <-chan struct{}, name string) Task {
	return func(ctx context.Context) {
		started <- name
		<-release
	}
}

func TestWorkerPool_ExtraWorkersThenReject(t *testing.T) {
	pool := NewWorkerPool(testLogger(), domain.PoolConfig{
		Name: "test", CoreSize: 1, MaxSize: 2, QueueCapacity: 1,
		KeepAlive: time.Second, Policy: domain.PolicyReject,
	})
	defer pool.Shutdown(context.Background())

	started := make(chan string, 4)
	release := make(chan struct{})

	require.NoError(t, pool.Submit(blockingTask(started, release, "a")))
	assert.Equal(t, "a", <-started)

	require.NoError(t, pool.Submit(blockingTask(started, release, "b")))
	require.NoError(t, pool.Submit(blockingTask(started, release, "c")))
	assert.Equal(t, "c", <-started, "queue full, so an extra worker takes the task")

	err := pool.Submit(blockingTask(started, release, "d"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrResourceExhausted))
	assert.Equal(t, int64(1), pool.Stats().Rejected)

	close(release)
	assert.Equal(t, "b", <-started)
	require.Eventually(t, func() bool { return pool.Stats().Completed == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_CallerRuns(t *testing.T) {
	pool := NewWorkerPool(testLogger(), domain.PoolConfig{
		Name: "test", CoreSize: 1, MaxSize: 1, QueueCapacity: 1, Policy: domain.PolicyCallerRuns,
	})
	defer pool.Shutdown(context.Background())

	started := make(chan string, 2)
	release := make(chan struct{})
	defer close(release)

	require.NoError(t, pool.Submit(blockingTask(started, release, "a")))
	<-started
	require.NoError(t, pool.Submit(blockingTask(started, release, "b")))

	var ranInline bool
	require.NoError(t, pool.Submit(func(ctx context.Context) { ranInline = true }))
	assert.True(t, ranInline, "saturated pool runs the task on the submitting goroutine")
	assert.Equal(t, int64(1), pool.Stats().CallerRan)
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(testLogger(), domain.PoolConfig{Name: "test", CoreSize: 1, MaxSize: 1, QueueCapacity: 4})
	defer pool.Shutdown(context.Background())

	var ran atomic.Bool
	require.NoError(t, pool.Submit(func(ctx context.Context) { panic("boom") }))
	require.NoError(t, pool.Submit(func(ctx context.Context) { ran.Store(true) }))

	require.Eventually(t, ran.Load, time.Second, 10*time.Millisecond, "worker survives a panicking task")
	assert.Equal(t, int64(1), pool.Stats().Panics)
}

func TestWorkerPool_ShutdownDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(testLogger(), domain.PoolConfig{Name: "test", CoreSize: 1, MaxSize: 1, QueueCapacity: 8})

	var done atomic.Int32
	for range 5 {
		require.NoError(t, pool.Submit(func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
		}))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(5), done.Load())

	err := pool.Submit(func(ctx context.Context) {})
	assert.True(t, errors.Is(err, domain.ErrPoolClosed))
	assert.NoError(t, pool.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestWorkerPool_ShutdownTimeoutCancelsTasks(t *testing.T) {
	pool := NewWorkerPool(testLogger(), domain.PoolConfig{
		Name: "test", CoreSize: 1, MaxSize: 1, QueueCapacity: 1, AwaitTermination: 50 * time.Millisecond,
	})

	started := make(chan struct{})
	sawCancel := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(sawCancel)
	}))
	<-started

	err := pool.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still running")

	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled after the shutdown wait")
	}
}

func TestPools_ForTaskType(t *testing.T) {
	pools := NewPools(testLogger(), domain.DefaultPoolsConfig())
	defer pools.Shutdown(context.Background())

	assert.Equal(t, domain.PoolForecast, pools.ForTaskType(domain.TaskTypeForecast).Name())
	assert.Equal(t, domain.PoolImport, pools.ForTaskType(domain.TaskTypeImport).Name())
	assert.Equal(t, domain.PoolGeneral, pools.ForTaskType(domain.TaskTypeExport).Name())
	assert.Len(t, pools.Stats(), 4)
}
