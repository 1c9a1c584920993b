package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of work run by a WorkerPool. ctx is cancelled only when
// the pool gives up waiting during shutdown.
type Task func(ctx context.Context)

// WorkerPool runs tasks on CoreSize long-lived workers fed by a bounded
// queue. When the queue is full it starts up to MaxSize-CoreSize extra
// workers that exit after KeepAlive idle, then applies its saturation policy.
type WorkerPool struct {
	logger *slog.Logger
	cfg    domain.PoolConfig
	tasks  chan Task
	extra  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	active    atomic.Int32
	completed atomic.Int64
	panics    atomic.Int64
	callerRun atomic.Int64
	rejected  atomic.Int64
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Name      string `json:"name"`
	Active    int32  `json:"active"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
	Completed int64  `json:"completed"`
	Panics    int64  `json:"panics"`
	CallerRan int64  `json:"callerRan"`
	Rejected  int64  `json:"rejected"`
}

func NewWorkerPool(logger *slog.Logger, cfg domain.PoolConfig) *WorkerPool {
	cfg = normalizePoolConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	p := &WorkerPool{
		logger: logger.With("pool", cfg.Name),
		cfg:    cfg,
		tasks:  make(chan Task, cfg.QueueCapacity),
		extra:  semaphore.NewWeighted(int64(cfg.MaxSize - cfg.CoreSize)),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(cfg.CoreSize)
	for i := 0; i < cfg.CoreSize; i++ {
		go p.coreWorker()
	}
	p.logger.Info("worker pool started",
		"core_size", cfg.CoreSize,
		"max_size", cfg.MaxSize,
		"queue_capacity", cfg.QueueCapacity,
		"policy", cfg.Policy)
	return p
}

func normalizePoolConfig(cfg domain.PoolConfig) domain.PoolConfig {
	if cfg.Name == "" {
		cfg.Name = domain.PoolGeneral
	}
	if cfg.CoreSize <= 0 {
		cfg.CoreSize = 1
	}
	if cfg.MaxSize < cfg.CoreSize {
		cfg.MaxSize = cfg.CoreSize
	}
	if cfg.QueueCapacity < 0 {
		cfg.QueueCapacity = 0
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.Policy != domain.PolicyReject {
		cfg.Policy = domain.PolicyCallerRuns
	}
	if cfg.AwaitTermination <= 0 {
		cfg.AwaitTermination = 30 * time.Second
	}
	return cfg
}

func (p *WorkerPool) Name() string { return p.cfg.Name }

// Submit schedules task. With the caller-runs policy a saturated pool runs
// the task before Submit returns; with the reject policy it returns
// ErrResourceExhausted.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.Wrapf(domain.ErrPoolClosed, "pool %s", p.cfg.Name)
	}

	select {
	case p.tasks <- task:
		p.mu.RUnlock()
		return nil
	default:
	}

	if p.extra.TryAcquire(1) {
		p.wg.Add(1)
		go p.extraWorker(task)
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	if p.cfg.Policy == domain.PolicyReject {
		p.rejected.Add(1)
		p.logger.Warn("pool saturated, rejecting task")
		return errors.Wrapf(domain.ErrResourceExhausted, "%s pool saturated", p.cfg.Name)
	}

	p.callerRun.Add(1)
	p.logger.Debug("pool saturated, running task on caller")
	p.run(task)
	return nil
}

func (p *WorkerPool) coreWorker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *WorkerPool) extraWorker(first Task) {
	defer p.wg.Done()
	defer p.extra.Release(1)

	p.run(first)

	idle := time.NewTimer(p.cfg.KeepAlive)
	defer idle.Stop()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
			idle.Reset(p.cfg.KeepAlive)
		case <-idle.C:
			return
		}
	}
}

func (p *WorkerPool) run(task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("task panicked", "panic", r)
		}
	}()
	task(p.ctx)
	p.completed.Add(1)
}

// Shutdown stops accepting tasks, lets queued tasks drain, and waits up to
// AwaitTermination (or ctx) for workers to finish. Tasks still running after
// that see their context cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.cfg.AwaitTermination)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool stopped", "completed", p.completed.Load())
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	p.cancel()
	return errors.Newf("pool %s: %d tasks still running after shutdown wait", p.cfg.Name, p.active.Load())
}

func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Name:      p.cfg.Name,
		Active:    p.active.Load(),
		Queued:    len(p.tasks),
		Capacity:  cap(p.tasks),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
		CallerRan: p.callerRun.Load(),
		Rejected:  p.rejected.Load(),
	}
}
