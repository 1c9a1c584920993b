package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/cropyield/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
)

// Event is a job update fanned out to subscribers of its task id.
type Event struct {
	TaskID    domain.JobID
	Type      EventType
	Data      string // JSON snapshot of the job
	Timestamp int64
}

// EventBus delivers job events to in-process subscribers. Slow subscribers
// lose events rather than stall the publishing worker.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan Event),
	}
}

// Subscribe returns a channel of events for one job and a function that
// unsubscribes and closes it.
func (b *EventBus) Subscribe(id domain.JobID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 32)
	b.subs[id] = append(b.subs[id], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[id]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[id] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[id]) == 0 {
				delete(b.subs, id)
			}
		})
	}

	return ch, unsub
}

func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.TaskID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event subscriber full, dropping event", "task_id", e.TaskID, "type", e.Type)
		}
	}
}

// PublishJob publishes a snapshot of job under the given event type.
func (b *EventBus) PublishJob(t EventType, job domain.Job) {
	if b == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		b.logger.Error("failed to encode job event", "task_id", job.ID, "error", err)
		return
	}
	b.Publish(Event{
		TaskID:    job.ID,
		Type:      t,
		Data:      string(data),
		Timestamp: time.Now().UnixMilli(),
	})
}

// Subscribers reports how many subscribers a job has.
func (b *EventBus) Subscribers(id domain.JobID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[id])
}
