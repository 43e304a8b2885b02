package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"thesisgen/pkg/domain"
)

// handleWatch streams committed store changes as Server-Sent Events. Query
// parameters: entity (project|source|task) and an optional project_id scope.
// The subscription is cancelled when the client disconnects.
func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	entity := domain.EntityType(r.URL.Query().Get("entity"))
	switch entity {
	case domain.EntityProject, domain.EntitySource, domain.EntityTask:
	default:
		writeError(w, http.StatusBadRequest, "entity must be project, source or task")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	handle, err := h.service.Watch(entity, r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	defer handle.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-handle.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("encode watch event", "error", err.Error())
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Action, payload)
			flusher.Flush()
		}
	}
}
