package services

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/cropyield/internal/adapters/memory"
	"github.com/manthysbr/cropyield/internal/core/domain"
)

func newScheduledJob(t *testing.T, store *memory.Store, id domain.JobID, created time.Time) domain.Job {
	t.Helper()
	job := domain.NewJob(id, domain.TaskTypeForecast, domain.SubmissionScheduled, validRequest(), created)
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

// failingLister makes every ListJobs call fail.
type failingLister struct {
	*memory.Store
}

func (failingLister) ListJobs(context.Context, domain.JobFilter) ([]domain.Job, error) {
	return nil, errors.New("database is locked")
}

func TestNewDispatchScheduler_Schedules(t *testing.T) {
	store := memory.New()
	queue := NewTaskQueue(testLogger(), domain.QueueConfig{})

	for _, spec := range []string{"", "@every 30m", "0 0/30 * * * ?", "*/5 * * * *"} {
		_, err := NewDispatchScheduler(testLogger(), store, queue, domain.DispatchConfig{Schedule: spec})
		assert.NoError(t, err, "schedule %q", spec)
	}

	_, err := NewDispatchScheduler(testLogger(), store, queue, domain.DispatchConfig{Schedule: "every thirty minutes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid dispatch schedule")
}

func TestSweep_PublishesScheduledBacklogOldestFirst(t *testing.T) {
	store := memory.New()
	queue := NewTaskQueue(testLogger(), domain.QueueConfig{Capacity: 8})
	ctx := context.Background()
	base := time.Now().UTC()

	newScheduledJob(t, store, "second", base.Add(time.Second))
	newScheduledJob(t, store, "first", base)
	direct := domain.NewJob("direct", domain.TaskTypeForecast, domain.SubmissionDirect, validRequest(), base)
	require.NoError(t, store.CreateJob(ctx, direct))

	sched, err := NewDispatchScheduler(testLogger(), store, queue, domain.DispatchConfig{})
	require.NoError(t, err)

	n, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, queue.Len(), "direct jobs are not part of the backlog")

	msg, err := queue.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobID("first"), msg.TaskID)
	assert.Equal(t, domain.TaskTypeForecast, msg.TaskType)

	job, err := store.GetJob(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Equal(t, domain.StepDispatched, job.CurrentStep)
	assert.Nil(t, job.StartTime, "dispatched is not started")

	again, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again, "dispatched jobs are not published twice")
}

func TestSweep_StopsWhenQueueRefuses(t *testing.T) {
	store := memory.New()
	queue := NewTaskQueue(testLogger(), domain.QueueConfig{Capacity: 1, Overflow: domain.QueueReject})
	ctx := context.Background()
	base := time.Now().UTC()

	newScheduledJob(t, store, "a", base)
	newScheduledJob(t, store, "b", base.Add(time.Second))

	sched, err := NewDispatchScheduler(testLogger(), store, queue, domain.DispatchConfig{BatchSize: 10})
	require.NoError(t, err)

	n, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := store.GetJob(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, b.Status, "unpublished job waits for the next sweep")
}

func TestSweep_StoreErrorSkipsCycle(t *testing.T) {
	queue := NewTaskQueue(testLogger(), domain.QueueConfig{})
	sched, err := NewDispatchScheduler(testLogger(), failingLister{memory.New()}, queue, domain.DispatchConfig{})
	require.NoError(t, err)

	n, err := sched.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, queue.Len())
}

func TestRecover_RequeuesAndFailsStrandedJobs(t *testing.T) {
	store := memory.New()
	queue := NewTaskQueue(testLogger(), domain.QueueConfig{Capacity: 8})
	ctx := context.Background()
	now := time.Now().UTC()

	newScheduledJob(t, store, "dispatched", now)
	ok, err := store.CompareAndSetStatus(ctx, "dispatched", domain.JobStatusPending, domain.JobStatusRunning, domain.StepDispatched, now)
	require.NoError(t, err)
	require.True(t, ok)

	newScheduledJob(t, store, "midway", now)
	claimed, err := store.ClaimJob(ctx, "midway", now)
	require.NoError(t, err)
	require.True(t, claimed)

	waiting := domain.NewJob("waiting", domain.TaskTypeForecast, domain.SubmissionDirect, validRequest(), now)
	require.NoError(t, store.CreateJob(ctx, waiting))

	newScheduledJob(t, store, "backlog", now)

	sched, err := NewDispatchScheduler(testLogger(), store, queue, domain.DispatchConfig{})
	require.NoError(t, err)

	n, err := sched.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, queue.Len())

	midway, err := store.GetJob(ctx, "midway")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, midway.Status)
	require.NotNil(t, midway.ErrorMessage)
	assert.Contains(t, *midway.ErrorMessage, "interrupted")

	backlog, err := store.GetJob(ctx, "backlog")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, backlog.Status, "scheduled backlog is left to the sweep")
}

func TestDispatchPath_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := h.service.Schedule(ctx, validRequest())
	require.NoError(t, err)

	sched, err := NewDispatchScheduler(testLogger(), h.store, h.queue, domain.DispatchConfig{})
	require.NoError(t, err)
	consumer := NewQueueConsumer(testLogger(), h.queue, h.lifecycle, 2)
	stopped := make(chan struct{})
	go func() {
		_ = consumer.Run(ctx)
		close(stopped)
	}()

	n, err := sched.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	done := h.awaitStatus(t, job.ID, domain.JobStatusCompleted)
	assert.NotNil(t, done.ResultID)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("consumers did not stop")
	}
}

func TestDispatchScheduler_RunStopsOnCancel(t *testing.T) {
	queue := NewTaskQueue(testLogger(), domain.QueueConfig{})
	sched, err := NewDispatchScheduler(testLogger(), memory.New(), queue, domain.DispatchConfig{Schedule: "@every 1h"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan error, 1)
	go func() { returned <- sched.Run(ctx) }()

	cancel()
	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestQueueConsumer_DrainRunsBufferedTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.service.Schedule(ctx, validRequest())
	require.NoError(t, err)
	second, err := h.service.Schedule(ctx, validRequest())
	require.NoError(t, err)

	sched, err := NewDispatchScheduler(testLogger(), h.store, h.queue, domain.DispatchConfig{})
	require.NoError(t, err)
	n, err := sched.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	consumer := NewQueueConsumer(testLogger(), h.queue, h.lifecycle, 1)
	assert.Equal(t, 2, consumer.Drain(ctx))
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, 0, consumer.Drain(ctx), "nothing left to drain")

	h.awaitStatus(t, first.ID, domain.JobStatusCompleted)
	h.awaitStatus(t, second.ID, domain.JobStatusCompleted)
}

// failingMarker publishes normally but cannot record the dispatched mark.
type failingMarker struct {
	*memory.Store
}

func (failingMarker) CompareAndSetStatus(context.Context, domain.JobID, domain.JobStatus, domain.JobStatus, string, time.Time) (bool, error) {
	return false, errors.New("connection reset")
}

func TestSweep_CountsPublishedWhenMarkFails(t *testing.T) {
	store := memory.New()
	queue := NewTaskQueue(testLogger(), domain.QueueConfig{Capacity: 8})
	base := time.Now().UTC()
	newScheduledJob(t, store, "a", base)
	newScheduledJob(t, store, "b", base.Add(time.Second))

	sched, err := NewDispatchScheduler(testLogger(), failingMarker{store}, queue, domain.DispatchConfig{})
	require.NoError(t, err)

	n, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, queue.Len())
}

func TestRecover_MoreStrandedThanQueueCapacity(t *testing.T) {
	h := newHarness(t)
	h.queue = NewTaskQueue(testLogger(), domain.QueueConfig{Capacity: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now().UTC()
	ids := []domain.JobID{"d1", "d2", "d3"}
	for _, id := range ids {
		require.NoError(t, h.store.CreateJob(ctx, domain.NewJob(id, domain.TaskTypeForecast, domain.SubmissionDirect, validRequest(), now)))
	}

	consumer := NewQueueConsumer(testLogger(), h.queue, h.lifecycle, 1)
	go func() { _ = consumer.Run(ctx) }()

	sched, err := NewDispatchScheduler(testLogger(), h.store, h.queue, domain.DispatchConfig{})
	require.NoError(t, err)

	type result struct {
		n   int
		err error
	}
	returned := make(chan result, 1)
	go func() {
		n, err := sched.Recover(ctx)
		returned <- result{n, err}
	}()

	select {
	case res := <-returned:
		require.NoError(t, res.err)
		assert.Equal(t, 3, res.n)
	case <-time.After(3 * time.Second):
		t.Fatal("recovery blocked on a full queue")
	}

	for _, id := range ids {
		h.awaitStatus(t, id, domain.JobStatusCompleted)
	}
}

func TestRecover_ReturnsWhenContextEnds(t *testing.T) {
	store := memory.New()
	queue := NewTaskQueue(testLogger(), domain.QueueConfig{Capacity: 1})
	now := time.Now().UTC()
	for _, id := range []domain.JobID{"w1", "w2", "w3"} {
		require.NoError(t, store.CreateJob(context.Background(), domain.NewJob(id, domain.TaskTypeForecast, domain.SubmissionDirect, validRequest(), now)))
	}

	sched, err := NewDispatchScheduler(testLogger(), store, queue, domain.DispatchConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	returned := make(chan error, 1)
	go func() {
		_, err := sched.Recover(ctx)
		returned <- err
	}()

	select {
	case err := <-returned:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(2 * time.Second):
		t.Fatal("recovery ignored context cancellation")
	}
}

func TestQueueConsumer_DrainDuringBatchLargerThanQueue(t *testing.T) {
	h := newHarness(t)
	h.queue = NewTaskQueue(testLogger(), domain.QueueConfig{Capacity: 2})
	ctx := context.Background()

	var scheduled []domain.Job
	for i := 0; i < 3; i++ {
		job, err := h.service.Schedule(ctx, validRequest())
		require.NoError(t, err)
		scheduled = append(scheduled, job)
	}

	sched, err := NewDispatchScheduler(testLogger(), h.store, h.queue, domain.DispatchConfig{BatchSize: 100})
	require.NoError(t, err)
	consumer := NewQueueConsumer(testLogger(), h.queue, h.lifecycle, 1)

	type result struct {
		n   int
		err error
	}
	returned := make(chan result, 1)
	go func() {
		n, err := consumer.DrainDuring(ctx, sched.Sweep)
		returned <- result{n, err}
	}()

	select {
	case res := <-returned:
		require.NoError(t, res.err)
		assert.Equal(t, 3, res.n)
	case <-time.After(3 * time.Second):
		t.Fatal("sweep blocked on a full queue")
	}
	assert.Equal(t, 0, h.queue.Len())

	for _, job := range scheduled {
		h.awaitStatus(t, job.ID, domain.JobStatusCompleted)
	}
}
