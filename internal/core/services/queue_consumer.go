package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
)

const (
	consumerRetryMin = 100 * time.Millisecond
	consumerRetryMax = 5 * time.Second
)

// QueueConsumer drains the Task Queue into the worker pools.
type QueueConsumer struct {
	logger    *slog.Logger
	queue     *TaskQueue
	lifecycle *TaskLifecycle
	workers   int
}

func NewQueueConsumer(logger *slog.Logger, queue *TaskQueue, lifecycle *TaskLifecycle, workers int) *QueueConsumer {
	if workers <= 0 {
		workers = 1
	}
	return &QueueConsumer{logger: logger, queue: queue, lifecycle: lifecycle, workers: workers}
}

// Run blocks until ctx is done or the queue is closed.
func (c *QueueConsumer) Run(ctx context.Context) error {
	c.logger.Info("queue consumers started", "workers", c.workers)

	var wg sync.WaitGroup
	wg.Add(c.workers)
	for i := 0; i < c.workers; i++ {
		go func(worker int) {
			defer wg.Done()
			c.consume(ctx, worker)
		}(i)
	}
	wg.Wait()

	c.logger.Info("queue consumers stopped")
	return nil
}

// Drain hands off the messages already buffered and returns how many it
// took, without waiting for more.
func (c *QueueConsumer) Drain(ctx context.Context) int {
	n := 0
	for c.queue.Len() > 0 {
		msg, err := c.queue.Poll(ctx)
		if err != nil {
			break
		}
		c.handOff(ctx, 0, msg)
		n++
	}
	return n
}

// DrainDuring runs publish while handing off what it publishes, then
// drains whatever is still buffered. A publisher producing more messages
// than the queue holds therefore never waits on a consumer that has not
// started yet.
func (c *QueueConsumer) DrainDuring(ctx context.Context, publish func(context.Context) (int, error)) (int, error) {
	type result struct {
		n   int
		err error
	}
	pollCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan result, 1)
	go func() {
		defer stop()
		n, err := publish(ctx)
		done <- result{n, err}
	}()

	for {
		msg, err := c.queue.Poll(pollCtx)
		if err != nil {
			break
		}
		c.handOff(ctx, 0, msg)
	}
	res := <-done
	c.Drain(ctx)
	return res.n, res.err
}

func (c *QueueConsumer) consume(ctx context.Context, worker int) {
	for {
		msg, err := c.queue.Poll(ctx)
		if err != nil {
			return
		}
		c.handOff(ctx, worker, msg)
	}
}

// handOff retries a rejected message with backoff; the job row is already
// marked dispatched, so dropping it would strand the job until restart.
func (c *QueueConsumer) handOff(ctx context.Context, worker int, msg domain.QueueMessage) {
	backoff := consumerRetryMin
	for {
		err := c.lifecycle.Dispatch(msg)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrResourceExhausted) {
			c.logger.Error("failed to hand off queued task", "worker", worker, "task_id", msg.TaskID, "error", err)
			return
		}

		c.logger.Warn("pool saturated, retrying queued task", "worker", worker, "task_id", msg.TaskID, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, consumerRetryMax)
	}
}
