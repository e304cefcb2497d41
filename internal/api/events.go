package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tburke/arbiter/internal/engine"
	"github.com/tburke/arbiter/internal/model"
	"github.com/tburke/arbiter/internal/store"
)

// handleStreamEvents streams a task's finalization event over SSE. A task
// that is already terminal yields its final state immediately; otherwise the
// stream stays open until the task finalizes or the client disconnects.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Already terminal: emit the final state and close the stream.
	if model.TerminalStatus(t.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "finalized", engine.Event{
			TaskID:   t.ID,
			Status:   t.Status,
			Response: t.Response,
		})
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe before streaming. This is safe even if the task finalized
	// between the status check above and this call — Subscribe on a closed
	// topic returns a closed channel, and the re-read below catches the
	// final state.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Topic closed. Re-read the task so a subscriber that raced
				// finalization still sees the final state.
				final, err := s.store.GetTask(r.Context(), id)
				if err == nil && model.TerminalStatus(final.Status) {
					_ = writeSSEEvent(w, "finalized", engine.Event{
						TaskID:   final.ID,
						Status:   final.Status,
						Response: final.Response,
					})
				}
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEEvent(w, "finalized", ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEEvent writes a named SSE event with a JSON payload.
func writeSSEEvent(w http.ResponseWriter, eventType string, ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
