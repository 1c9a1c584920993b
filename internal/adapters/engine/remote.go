package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/ports"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// RemoteEngine calls an external forecasting service. Every failure is
// reported as ErrEngineUnavailable.
type RemoteEngine struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

var _ ports.ForecastEngine = (*RemoteEngine)(nil)

func NewRemoteEngine(cfg domain.EngineConfig) *RemoteEngine {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &RemoteEngine{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (e *RemoteEngine) RunForecast(ctx context.Context, req domain.EngineRequest) (domain.EngineResponse, error) {
	if !e.limiter.Allow() {
		return domain.EngineResponse{}, unavailable(errors.New("rate limit exceeded"))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.EngineResponse{}, unavailable(errors.Wrap(err, "failed to marshal request"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
	if err != nil {
		return domain.EngineResponse{}, unavailable(errors.Wrap(err, "failed to create request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return domain.EngineResponse{}, unavailable(errors.Wrap(err, "engine connection failed"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.EngineResponse{}, unavailable(errors.Newf("engine returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.EngineResponse{}, unavailable(errors.Wrap(err, "failed to read engine response"))
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.EngineResponse{}, unavailable(errors.New("engine returned an empty body"))
	}

	var out domain.EngineResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.EngineResponse{}, unavailable(errors.Wrap(err, "failed to decode engine response"))
	}
	if out.Forecast == nil {
		out.Forecast = []domain.ForecastPoint{}
	}
	out.Source = domain.EngineSourceRemote
	return out, nil
}

func (e *RemoteEngine) String() string {
	return fmt.Sprintf("remote(%s)", e.baseURL)
}

func unavailable(err error) error {
	return errors.Mark(err, domain.ErrEngineUnavailable)
}
