package services

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
)

// Pools holds the executor's named pools. Forecast and import work is kept
// off the general pool so slow jobs cannot starve quick ones.
type Pools struct {
	General      *WorkerPool
	Forecast     *WorkerPool
	Import       *WorkerPool
	Notification *WorkerPool
}

func NewPools(logger *slog.Logger, cfg domain.PoolsConfig) *Pools {
	cfg.General.Name = domain.PoolGeneral
	cfg.Forecast.Name = domain.PoolForecast
	cfg.Import.Name = domain.PoolImport
	cfg.Notification.Name = domain.PoolNotification

	return &Pools{
		General:      NewWorkerPool(logger, cfg.General),
		Forecast:     NewWorkerPool(logger, cfg.Forecast),
		Import:       NewWorkerPool(logger, cfg.Import),
		Notification: NewWorkerPool(logger, cfg.Notification),
	}
}

// ForTaskType picks the pool that runs jobs of type t.
func (p *Pools) ForTaskType(t domain.TaskType) *WorkerPool {
	switch t {
	case domain.TaskTypeForecast:
		return p.Forecast
	case domain.TaskTypeImport:
		return p.Import
	default:
		return p.General
	}
}

// Shutdown stops every pool, job pools first so their final notifications
// still find the notification pool open.
func (p *Pools) Shutdown(ctx context.Context) error {
	var err error
	for _, pool := range []*WorkerPool{p.Forecast, p.Import, p.General, p.Notification} {
		err = errors.CombineErrors(err, pool.Shutdown(ctx))
	}
	return err
}

func (p *Pools) Stats() []PoolStats {
	return []PoolStats{
		p.General.Stats(),
		p.Forecast.Stats(),
		p.Import.Stats(),
		p.Notification.Stats(),
	}
}
