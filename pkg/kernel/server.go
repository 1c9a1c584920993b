package kernel

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/services"
)

//go:embed openapi.yaml
var openapiSpec []byte

const maxRequestBody = 64 << 10

// Tasks is the part of the task service the HTTP layer drives.
type Tasks interface {
	Submit(ctx context.Context, req domain.ForecastRequest) (domain.Job, error)
	Schedule(ctx context.Context, req domain.ForecastRequest) (domain.Job, error)
	GetStatus(ctx context.Context, id domain.JobID) (domain.Job, error)
	Cancel(ctx context.Context, id domain.JobID) (domain.CancelOutcome, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
}

// Options holds the optional collaborators of a Server.
type Options struct {
	// ValidateRequests checks every request against the embedded OpenAPI
	// document before it reaches a handler.
	ValidateRequests bool
	Pools            *services.Pools
	Queue            *services.TaskQueue
}

type Server struct {
	logger    *slog.Logger
	tasks     Tasks
	eventBus  *services.EventBus
	pools     *services.Pools
	queue     *services.TaskQueue
	validator *requestValidator

	closeOnce sync.Once
	closing   chan struct{}
}

func NewServer(logger *slog.Logger, tasks Tasks, eventBus *services.EventBus, opts Options) (*Server, error) {
	s := &Server{
		logger:   logger,
		tasks:    tasks,
		eventBus: eventBus,
		pools:    opts.Pools,
		queue:    opts.Queue,
		closing:  make(chan struct{}),
	}
	if opts.ValidateRequests {
		v, err := newRequestValidator(openapiSpec)
		if err != nil {
			return nil, err
		}
		s.validator = v
	}
	return s, nil
}

// Handler returns the HTTP handler serving the forecast task API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /forecast/async/submit", s.handleSubmit)
	mux.HandleFunc("POST /forecast/async/schedule", s.handleSchedule)
	mux.HandleFunc("GET /forecast/async/status/{taskId}", s.handleStatus)
	mux.HandleFunc("DELETE /forecast/async/{taskId}", s.handleCancel)
	mux.HandleFunc("GET /forecast/async/tasks", s.handleList)
	mux.HandleFunc("GET /forecast/async/events/{taskId}", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapiSpec)
	})

	var h http.Handler = mux
	if s.validator != nil {
		h = s.validator.middleware(h, s.writeError)
	}
	return s.logRequests(h)
}

// CloseStreams ends every open event stream. Register it with
// http.Server.RegisterOnShutdown so Shutdown does not wait on them.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

type submitResponse struct {
	TaskID  domain.JobID     `json:"taskId"`
	Status  domain.JobStatus `json:"status"`
	Message string           `json:"message"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, s.tasks.Submit, "task submitted")
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, s.tasks.Schedule, "task scheduled for dispatch")
}

func (s *Server) create(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, domain.ForecastRequest) (domain.Job, error), msg string) {
	var req domain.ForecastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, errors.Mark(errors.Wrap(err, "malformed request body"), domain.ErrValidation))
		return
	}

	job, err := fn(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: job.ID, Status: job.Status, Message: msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.tasks.GetStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.tasks.Cancel(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type listResponse struct {
	Tasks []domain.Job `json:"tasks"`
	Count int          `json:"count"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		status *string
		mode   *string
		limit  *int
	)
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "status", q, &status); err != nil {
		s.writeError(w, paramError("status", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "mode", q, &mode); err != nil {
		s.writeError(w, paramError("mode", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &limit); err != nil {
		s.writeError(w, paramError("limit", err))
		return
	}

	var filter domain.JobFilter
	if status != nil {
		filter.Status = domain.JobStatus(*status)
	}
	if mode != nil {
		filter.Mode = domain.SubmissionMode(*mode)
	}
	if limit != nil {
		filter.Limit = *limit
	}

	jobs, err := s.tasks.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Tasks: jobs, Count: len(jobs)})
}

type healthResponse struct {
	Status        string               `json:"status"`
	QueueDepth    int                  `json:"queueDepth"`
	QueueCapacity int                  `json:"queueCapacity"`
	Pools         []services.PoolStats `json:"pools,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.queue != nil {
		resp.QueueDepth = s.queue.Len()
		resp.QueueCapacity = s.queue.Cap()
	}
	if s.pools != nil {
		resp.Pools = s.pools.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func taskIDParam(r *http.Request) (domain.JobID, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "taskId", r.PathValue("taskId"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		return "", paramError("taskId", err)
	}
	return domain.JobID(id), nil
}

func paramError(name string, err error) error {
	return errors.Mark(errors.Wrapf(err, "invalid parameter %s", name), domain.ErrValidation)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
