package main

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/manthysbr/cropyield/internal/adapters/engine"
	"github.com/manthysbr/cropyield/internal/adapters/notify"
	"github.com/manthysbr/cropyield/internal/config"
	"github.com/manthysbr/cropyield/internal/core/ports"
	"github.com/manthysbr/cropyield/internal/core/services"
)

// app is the wired kernel shared by the serve and dispatch commands.
type app struct {
	logger    *slog.Logger
	cfg       config.Config
	store     ports.Store
	pools     *services.Pools
	queue     *services.TaskQueue
	events    *services.EventBus
	lifecycle *services.TaskLifecycle
	tasks     *services.TaskService
	consumer  *services.QueueConsumer
	scheduler *services.DispatchScheduler
}

func newApp(ctx context.Context, logger *slog.Logger, cfg config.Config) (*app, error) {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	forecastEngine := engine.New(logger, cfg.Engine)
	if forecastEngine.Remote() {
		logger.Info("remote forecast engine configured", "base_url", cfg.Engine.BaseURL)
	} else {
		logger.Info("no remote forecast engine configured, using local fallback only")
	}

	pools := services.NewPools(logger, cfg.Pools)
	queue := services.NewTaskQueue(logger, cfg.Queue)
	events := services.NewEventBus(logger)

	lifecycle := services.NewTaskLifecycle(logger, services.LifecycleDeps{
		Jobs:     store,
		Catalog:  store,
		History:  store,
		Results:  store,
		Engine:   forecastEngine,
		Pools:    pools,
		Events:   events,
		Notifier: notify.NewLogNotifier(logger),
	}, services.LifecycleConfig{MaxForecastPeriods: cfg.Engine.MaxForecastPeriods})

	scheduler, err := services.NewDispatchScheduler(logger, store, queue, cfg.Dispatch)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "failed to configure dispatch")
	}

	return &app{
		logger:    logger,
		cfg:       cfg,
		store:     store,
		pools:     pools,
		queue:     queue,
		events:    events,
		lifecycle: lifecycle,
		tasks:     services.NewTaskService(logger, store, lifecycle),
		consumer:  services.NewQueueConsumer(logger, queue, lifecycle, cfg.Queue.Consumers),
		scheduler: scheduler,
	}, nil
}

// shutdown closes the queue, waits for the pools and closes the store.
func (a *app) shutdown(ctx context.Context) error {
	a.queue.Close()
	err := a.pools.Shutdown(ctx)
	if err != nil {
		a.logger.Error("pools did not stop cleanly", "error", err)
	}
	return errors.CombineErrors(err, a.store.Close())
}
