package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/services"
)

// handleJobEvents streams the events of one job as SSE. The stream opens with
// the current status and ends once the job reaches a terminal status.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(chi.URLParam(r, "job_id"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// subscribe before the snapshot so no transition is missed in between
	ch, unsub := s.research.Subscribe(jobID)
	defer unsub()

	view, err := s.research.Get(r.Context(), jobID)
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snapshot, _ := json.Marshal(map[string]string{"status": string(view.Job.Status)})
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", services.EventTypeStatus, snapshot)
	flusher.Flush()
	if view.Job.Status.Terminal() {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
			if evt.Type == services.EventTypeStatus && terminalStatusEvent(evt.Data) {
				return
			}
		}
	}
}

func terminalStatusEvent(data string) bool {
	var payload struct {
		Status domain.JobStatus `json:"status"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return false
	}
	return payload.Status.Terminal()
}
