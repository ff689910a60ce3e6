package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rappen/RappSack/internal/store"
	"github.com/rappen/RappSack/internal/streaming"
	"github.com/rappen/RappSack/internal/telemetry"
	"github.com/rappen/RappSack/pkg/plugin"
	"github.com/rappen/RappSack/pkg/schema"
	"github.com/rappen/RappSack/pkg/xrm"
)

// DefaultMaxBody caps the size of an inbound execution context.
const DefaultMaxBody = 4 << 20

// ContextDecoder validates and decodes a remote execution context payload.
// Satisfied by validation.ContextValidator.
type ContextDecoder interface {
	Validate(data []byte) (*xrm.ExecutionContext, *schema.ValidationResult)
}

// JournalReader reads the invocation journal. Satisfied by store.Store.
type JournalReader interface {
	GetInvocation(ctx context.Context, id string) (*schema.Invocation, error)
	ListInvocations(ctx context.Context, filter store.InvocationFilter) ([]*schema.Invocation, error)
	InvocationStats(ctx context.Context, since time.Time) (*store.InvocationStats, error)
}

// Deps holds the dependencies for the webhook server.
type Deps struct {
	Registry *plugin.Registry
	Runner   *plugin.Runner
	Decoder  ContextDecoder
	Journal  JournalReader      // optional: enables /api/invocations
	Hub      streaming.EventHub // optional: enables /api/invocations/stream
	Metrics  *telemetry.Metrics // optional: enables /metrics
	Logger   *slog.Logger
	MaxBody  int64
}

// Server receives remote execution contexts over HTTP and runs the named
// plugin against them.
type Server struct {
	deps Deps
}

// NewServer creates a new Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.MaxBody <= 0 {
		deps.MaxBody = DefaultMaxBody
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the webhook routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /plugins", s.handleListPlugins)
	mux.HandleFunc("POST /plugins/{name}", s.handleRunPlugin)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	mux.HandleFunc("GET /api/invocations", s.handleListInvocations)
	mux.HandleFunc("GET /api/invocations/stream", s.handleInvocationStream)
	mux.HandleFunc("GET /api/invocations/{id}", s.handleGetInvocation)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	return s.observe(mux)
}

// observe counts responses by status code.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Metrics.ObserveRequest(rec.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// StatusFor maps an error code to the HTTP status reported to the caller.
func StatusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation, schema.ErrCodeSerialization:
		return http.StatusBadRequest
	case schema.ErrCodeNeedsNotMet:
		return http.StatusPreconditionFailed
	case schema.ErrCodeExecution:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeIdentity:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
