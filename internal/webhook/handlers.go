package webhook

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rappen/RappSack/internal/store"
	"github.com/rappen/RappSack/pkg/schema"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"plugins": s.deps.Registry.Count(),
	})
}

func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

// handleRunPlugin decodes the execution context in the body and runs the
// named plugin. The response body is the Outcome; a failed invocation maps
// its error code to the status.
func (s *Server) handleRunPlugin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	p, err := s.deps.Registry.Get(name)
	if err != nil {
		writePluginError(w, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.deps.MaxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}

	ec, result := s.deps.Decoder.Validate(data)
	if !result.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	if ec == nil {
		writeError(w, http.StatusBadRequest, "empty execution context")
		return
	}
	for _, warn := range result.Warnings {
		s.deps.Logger.WarnContext(ctx, "execution context warning",
			slog.String("plugin", name),
			slog.String("path", warn.Path),
			slog.String("rule", warn.Rule),
			slog.String("message", warn.Message),
		)
	}

	out, err := s.deps.Runner.Execute(ctx, p, ec)
	if out == nil {
		writePluginError(w, err)
		return
	}
	status := http.StatusOK
	if out.Error != nil {
		status = StatusFor(out.Error.Code)
	}
	writeJSON(w, status, out)
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusNotFound, "invocation journal is not enabled")
		return
	}

	q := r.URL.Query()
	filter := store.InvocationFilter{
		Plugin:        q.Get("plugin"),
		Entity:        q.Get("entity"),
		CorrelationID: q.Get("correlation_id"),
		Limit:         queryInt(r, "limit", 50),
		Offset:        queryInt(r, "offset", 0),
	}
	if v := q.Get("status"); v != "" {
		status := schema.InvocationStatus(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", v))
			return
		}
		filter.Status = &status
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("since: %v", err))
			return
		}
		filter.Since = &since
	}

	invocations, err := s.deps.Journal.ListInvocations(r.Context(), filter)
	if err != nil {
		writePluginError(w, err)
		return
	}
	if invocations == nil {
		invocations = []*schema.Invocation{}
	}
	writeJSON(w, http.StatusOK, invocations)
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusNotFound, "invocation journal is not enabled")
		return
	}
	inv, err := s.deps.Journal.GetInvocation(r.Context(), r.PathValue("id"))
	if err != nil {
		writePluginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusNotFound, "invocation journal is not enabled")
		return
	}
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q", v))
			return
		}
		window = d
	}
	stats, err := s.deps.Journal.InvocationStats(r.Context(), time.Now().UTC().Add(-window))
	if err != nil {
		writePluginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
