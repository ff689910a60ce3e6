package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rappen/RappSack/internal/streaming"
	"github.com/rappen/RappSack/pkg/schema"
)

// handleInvocationStream streams finished invocations via Server-Sent Events.
// Query params plugin, entity and status (repeatable) narrow the feed.
func (s *Server) handleInvocationStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusNotFound, "invocation stream is not enabled")
		return
	}

	q := r.URL.Query()
	filter := streaming.EventFilter{Plugin: q.Get("plugin"), Entity: q.Get("entity")}
	for _, v := range q["status"] {
		status := schema.InvocationStatus(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", v))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("stream subscribe failed", "error", err)
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	if err := rc.Flush(); err != nil {
		s.deps.Logger.Error("stream flush failed", "error", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: invocation\nid: %s\ndata: %s\n\n", event.InvocationID, data)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
