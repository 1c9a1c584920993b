package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/ports"
)

type yieldKey struct {
	regionID int64
	cropID   int64
}

// Store keeps everything in process memory. All methods are safe for
// concurrent use and conditional updates are atomic under one mutex.
type Store struct {
	mu      sync.Mutex
	jobs    map[domain.JobID]domain.Job
	regions map[int64]domain.Region
	crops   map[int64]domain.Crop
	models  map[int64]domain.ForecastModel
	yields  map[yieldKey]map[int]float64
	runs    map[int64]domain.ForecastRun
	nextRun int64
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		jobs:    make(map[domain.JobID]domain.Job),
		regions: make(map[int64]domain.Region),
		crops:   make(map[int64]domain.Crop),
		models:  make(map[int64]domain.ForecastModel),
		yields:  make(map[yieldKey]map[int]float64),
		runs:    make(map[int64]domain.ForecastRun),
	}
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// SeedDemo loads the demo catalog shared by every backend.
func (s *Store) SeedDemo(context.Context) error {
	for _, r := range domain.DemoRegions() {
		s.PutRegion(r)
	}
	for _, c := range domain.DemoCrops() {
		s.PutCrop(c)
	}
	for _, m := range domain.DemoModels() {
		s.PutModel(m)
	}
	for _, y := range domain.DemoYields() {
		s.PutYield(y.RegionID, y.CropID, y.Year, y.Value)
	}
	return nil
}

func (s *Store) PutRegion(r domain.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[r.ID] = r
}

func (s *Store) PutCrop(c domain.Crop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crops[c.ID] = c
}

func (s *Store) PutModel(m domain.ForecastModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m
}

func (s *Store) PutYield(regionID, cropID int64, year int, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := yieldKey{regionID, cropID}
	if s.yields[k] == nil {
		s.yields[k] = make(map[int]float64)
	}
	s.yields[k][year] = value
}

// Run returns a stored run, for inspection in tests.
func (s *Store) Run(id int64) (domain.ForecastRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok
}

func (s *Store) CreateJob(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.Wrapf(domain.ErrDuplicateTask, "task %s", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, errors.Wrapf(domain.ErrJobNotFound, "task %s", id)
	}
	return job, nil
}

func (s *Store) ListJobs(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0)
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Mode != "" && job.Mode != filter.Mode {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if filter.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ClaimJob(_ context.Context, id domain.JobID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, errors.Wrapf(domain.ErrJobNotFound, "task %s", id)
	}
	if job.StartTime != nil || (job.Status != domain.JobStatusPending && job.Status != domain.JobStatusRunning) {
		return false, nil
	}
	job.Status = domain.JobStatusRunning
	job.StartTime = &at
	job.Progress = 0
	job.CurrentStep = domain.StepInitializing
	job.UpdatedAt = at
	s.jobs[id] = job
	return true, nil
}

func (s *Store) CompareAndSetStatus(_ context.Context, id domain.JobID, from, to domain.JobStatus, step string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, errors.Wrapf(domain.ErrJobNotFound, "task %s", id)
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	job.CurrentStep = step
	job.UpdatedAt = at
	s.jobs[id] = job
	return true, nil
}

func (s *Store) UpdateProgress(_ context.Context, id domain.JobID, progress int, step string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.Wrapf(domain.ErrJobNotFound, "task %s", id)
	}
	if job.Status != domain.JobStatusRunning || progress < job.Progress {
		return nil
	}
	job.Progress = progress
	job.CurrentStep = step
	job.UpdatedAt = at
	s.jobs[id] = job
	return nil
}

func (s *Store) FinishJob(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return errors.Wrapf(domain.ErrJobNotFound, "task %s", job.ID)
	}
	if stored.Status.IsTerminal() {
		return errors.Wrapf(domain.ErrAlreadyTerminal, "task %s is %s", job.ID, stored.Status)
	}
	stored.Status = job.Status
	stored.Progress = job.Progress
	stored.CurrentStep = job.CurrentStep
	stored.ResultID = job.ResultID
	stored.ErrorMessage = job.ErrorMessage
	stored.EndTime = job.EndTime
	stored.ExecutionTime = job.ExecutionTime
	stored.UpdatedAt = job.UpdatedAt
	s.jobs[job.ID] = stored
	return nil
}

func (s *Store) CancelIfNotStarted(_ context.Context, id domain.JobID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, errors.Wrapf(domain.ErrJobNotFound, "task %s", id)
	}
	if job.StartTime != nil || (job.Status != domain.JobStatusPending && job.Status != domain.JobStatusRunning) {
		return false, nil
	}
	job.Status = domain.JobStatusCancelled
	job.CurrentStep = domain.StepCancelled
	job.EndTime = &at
	job.UpdatedAt = at
	s.jobs[id] = job
	return true, nil
}

func (s *Store) GetRegion(_ context.Context, id int64) (domain.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[id]
	if !ok {
		return domain.Region{}, domain.NewNotFoundError("region", id)
	}
	return r, nil
}

func (s *Store) GetCrop(_ context.Context, id int64) (domain.Crop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crops[id]
	if !ok {
		return domain.Crop{}, domain.NewNotFoundError("crop", id)
	}
	return c, nil
}

func (s *Store) GetModel(_ context.Context, id int64) (domain.ForecastModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return domain.ForecastModel{}, domain.NewNotFoundError("forecast model", id)
	}
	return m, nil
}

func (s *Store) YieldHistory(_ context.Context, regionID, cropID int64, years int) ([]domain.HistoryPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byYear := s.yields[yieldKey{regionID, cropID}]
	yearsSeen := make([]int, 0, len(byYear))
	for y := range byYear {
		yearsSeen = append(yearsSeen, y)
	}
	sort.Ints(yearsSeen)
	if years > 0 && len(yearsSeen) > years {
		yearsSeen = yearsSeen[len(yearsSeen)-years:]
	}

	out := make([]domain.HistoryPoint, 0, len(yearsSeen))
	for _, y := range yearsSeen {
		out = append(out, domain.HistoryPoint{Period: strconv.Itoa(y), Value: byYear[y]})
	}
	return out, nil
}

func (s *Store) SaveRun(_ context.Context, run domain.ForecastRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun++
	s.runs[s.nextRun] = run
	return s.nextRun, nil
}
