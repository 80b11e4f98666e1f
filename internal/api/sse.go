package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/transcribeq/transcribeq/internal/queue"
)

// StreamEvents handles GET /api/v1/jobs/{id}/events.
// It streams server-sent events for the job until it finishes, is cancelled,
// or the client disconnects.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := r.PathValue("id")
	ch, snap, err := h.sched.Subscribe(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if ch != nil {
		defer h.sched.Unsubscribe(id, ch)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// If already terminal, send the result event and close immediately.
	if ch == nil {
		writeSSEEvent(w, flusher, string(queue.EventResult), snap)
		return
	}

	// Send the current status so the client has an initial state.
	writeSSEEvent(w, flusher, string(queue.EventStatus), snap)

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(w, flusher, string(ev.Kind), ev.Job)
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent serialises data as JSON and writes a single SSE event frame.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
