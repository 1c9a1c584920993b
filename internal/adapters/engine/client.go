package engine

import (
	"context"
	"log/slog"

	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/ports"
)

// Client runs forecasts on the remote engine when one is configured and
// silently substitutes the local engine on any remote failure. It never
// returns an error.
type Client struct {
	logger *slog.Logger
	remote ports.ForecastEngine // nil when no base URL is configured
	local  *LocalEngine
}

var _ ports.ForecastEngine = (*Client)(nil)

// New selects the engine strategy from cfg once, at construction.
func New(logger *slog.Logger, cfg domain.EngineConfig) *Client {
	c := &Client{logger: logger, local: NewLocalEngine()}
	if cfg.BaseURL != "" {
		c.remote = NewRemoteEngine(cfg)
	}
	return c
}

// NewWithRemote wraps an arbitrary remote leg, mainly for tests.
func NewWithRemote(logger *slog.Logger, remote ports.ForecastEngine) *Client {
	return &Client{logger: logger, remote: remote, local: NewLocalEngine()}
}

func (c *Client) RunForecast(ctx context.Context, req domain.EngineRequest) (domain.EngineResponse, error) {
	if c.remote == nil {
		c.logger.Warn("no forecast engine base url configured, using local engine",
			"model_code", req.ModelCode)
		return c.local.RunForecast(ctx, req)
	}

	resp, err := c.remote.RunForecast(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("forecast engine unavailable, falling back to local engine",
		"model_code", req.ModelCode,
		"error", err)
	return c.local.RunForecast(ctx, req)
}

// Remote reports whether a remote leg is configured.
func (c *Client) Remote() bool {
	return c.remote != nil
}
