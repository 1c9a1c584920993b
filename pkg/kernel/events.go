package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/manthysbr/cropyield/internal/core/domain"
	"github.com/manthysbr/cropyield/internal/core/services"
)

const sseKeepAlive = 15 * time.Second

// handleEvents streams status and progress events for one task as
// server-sent events. The first event is the current snapshot; the stream
// ends once the task reaches a terminal status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, err := taskIDParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// subscribe before the snapshot so no transition falls in between
	ch, unsub := s.eventBus.Subscribe(id)
	defer unsub()

	job, err := s.tasks.GetStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	data, err := json.Marshal(job)
	if err != nil {
		s.logger.Error("failed to encode task snapshot", "task_id", id, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", services.EventTypeStatus, data)
	flusher.Flush()
	if job.Status.IsTerminal() {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
			if evt.Type == services.EventTypeStatus && terminalSnapshot(evt.Data) {
				return
			}
		}
	}
}

func terminalSnapshot(data string) bool {
	var snap struct {
		Status domain.JobStatus `json:"status"`
	}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return false
	}
	return snap.Status.IsTerminal()
}
