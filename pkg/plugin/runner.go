package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rappen/RappSack/internal/logging"
	"github.com/rappen/RappSack/pkg/contextentity"
	"github.com/rappen/RappSack/pkg/schema"
	"github.com/rappen/RappSack/pkg/tracing"
	"github.com/rappen/RappSack/pkg/xrm"
)

// Journal persists finished invocations.
// Satisfied by *store.LibSQLStore and test mocks.
type Journal interface {
	RecordInvocation(ctx context.Context, inv *schema.Invocation) error
}

// Metrics observes invocations and gate violations.
type Metrics interface {
	ObserveInvocation(plugin string, status schema.InvocationStatus, d time.Duration)
	ObserveViolation(plugin, rule string)
}

// RunnerDeps holds the optional collaborators of a Runner. Nil members are
// skipped.
type RunnerDeps struct {
	Services   ServiceFactory
	Variables  EnvironmentVariables
	Conditions ConditionEvaluator
	Journal    Journal
	Metrics    Metrics
	Logger     *slog.Logger
	Now        func() time.Time
	// TraceLevel is the lowest level kept in Outcome.Trace.
	TraceLevel tracing.Level
}

// Outcome is returned by Execute with the invocation result.
type Outcome struct {
	InvocationID uuid.UUID               `json:"invocation_id"`
	Plugin       string                  `json:"plugin"`
	Status       schema.InvocationStatus `json:"status"`
	Diagnostic   string                  `json:"diagnostic,omitempty"`
	Error        *schema.PluginError     `json:"error,omitempty"`
	Trace        []string                `json:"trace,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	Duration     time.Duration           `json:"duration"`
}

// Runner is the plugin entrypoint: it traces, gates, resolves the acting
// identity and runs business logic for one execution context at a time.
// A Runner is safe for concurrent use when its deps are.
type Runner struct {
	deps   RunnerDeps
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDeps) *Runner {
	r := &Runner{deps: deps, logger: deps.Logger, now: deps.Now}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Execute runs p against ec. The returned Outcome is non-nil whenever p and
// ec are. The error, when non-nil, is always a *schema.PluginError: the
// plugin's own when it returned one, UNHANDLED_ERROR for anything else.
func (r *Runner) Execute(ctx context.Context, p Plugin, ec *xrm.ExecutionContext) (out *Outcome, err error) {
	if p == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "plugin is nil")
	}
	name := p.Name()
	if ec == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution context is nil").WithPlugin(name)
	}

	invocationID := uuid.New()
	ctx = logging.WithInvocation(ctx, logging.Invocation{
		CorrelationID: ec.CorrelationID.String(),
		InvocationID:  invocationID.String(),
		Plugin:        name,
		Message:       ec.MessageName,
		Entity:        ec.PrimaryEntityName,
	})

	buf := tracing.NewBuffer(r.deps.TraceLevel)
	tracer := tracing.New(
		[]tracing.Sink{buf, tracing.SlogSink{Logger: r.logger, Ctx: ctx}},
		tracing.WithClock(r.now),
		tracing.WithTiming(tracing.TimingElapsedSinceLast),
	)

	out = &Outcome{InvocationID: invocationID, Plugin: name, StartedAt: r.now()}
	defer func() {
		if rec := recover(); rec != nil {
			err = schema.NewErrorf(schema.ErrCodeUnhandled, "Unhandled panic in %s: %v", name, rec).WithPlugin(name)
			tracer.TraceError(err)
		}
		if err != nil {
			out.Status = schema.InvocationFailed
			out.Error, _ = schema.AsPluginError(err)
		}
		out.Duration = r.now().Sub(out.StartedAt)
		out.Trace = buf.Lines()
		r.record(ctx, ec, out)
	}()

	err = r.run(ctx, p, ec, tracer, out)
	return out, err
}

func (r *Runner) run(ctx context.Context, p Plugin, ec *xrm.ExecutionContext, tracer *tracing.Tracer, out *Outcome) error {
	name := p.Name()
	traceContext(tracer, ec)

	entity := contextentity.New(ec)
	verdict := Gate{Needs: p.Needs(), Conditions: r.deps.Conditions}.Verify(ctx, ec, entity)
	if !verdict.Passed() {
		if r.deps.Metrics != nil {
			for _, rule := range verdict.Rules() {
				r.deps.Metrics.ObserveViolation(name, rule)
			}
		}
		out.Diagnostic = verdict.Diagnostic()
		if err := verdict.Err(); err != nil {
			return r.fail(tracer, name, err)
		}
		tracer.Trace("%s", out.Diagnostic)
		out.Status = schema.InvocationSkipped
		return nil
	}

	svc, err := r.createService(ctx, p, ec, tracer)
	if err != nil {
		return r.fail(tracer, name, err)
	}

	ex := &Execution{
		InvocationID: out.InvocationID,
		Context:      ec,
		Entity:       entity,
		Entities:     contextentity.NewCollection(ec),
		Service:      svc,
		Tracer:       tracer,
		Logger:       logging.LogWith(ctx, r.logger),
	}

	start := r.now()
	tracer.TraceRaw(fmt.Sprintf("Execution %s at %s", name, start.Format("2006-01-02 15:04:05.000")))
	err = invoke(ctx, p, ex)
	tracer.TraceRaw("Exiting after " + tracing.SmartDuration(r.now().Sub(start)))
	if err != nil {
		return r.fail(tracer, name, err)
	}
	out.Status = schema.InvocationExecuted
	return nil
}

func invoke(ctx context.Context, p Plugin, ex *Execution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = schema.NewErrorf(schema.ErrCodeUnhandled, "Unhandled panic in %s: %v", p.Name(), rec).WithPlugin(p.Name())
		}
	}()
	return p.Execute(ctx, ex)
}

// fail traces err and returns it as a PluginError. PluginErrors pass through
// unchanged.
func (r *Runner) fail(tracer *tracing.Tracer, name string, err error) error {
	pe, ok := schema.AsPluginError(err)
	if !ok {
		pe = schema.NewErrorf(schema.ErrCodeUnhandled, "Unhandled %T in %s: %s", err, name, err.Error()).
			WithPlugin(name).
			WithCause(err)
	}
	tracer.TraceError(pe)
	return pe
}

// ActingUser returns the user the organization service of p acts as for ec.
// A nil id means the system account.
func (r *Runner) ActingUser(ctx context.Context, p Plugin, ec *xrm.ExecutionContext) (*uuid.UUID, error) {
	as, envVar := identityOf(p)
	switch as {
	case ServiceSystem:
		return nil, nil
	case ServiceInitiating:
		id := ec.InitiatingUserID
		return &id, nil
	case ServiceSpecific:
		return r.specificUser(ctx, envVar)
	default:
		id := ec.UserID
		return &id, nil
	}
}

func (r *Runner) specificUser(ctx context.Context, envVar string) (*uuid.UUID, error) {
	if envVar == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "ServiceAs is Specific, but ExecuterEnvVar is not set")
	}
	if r.deps.Variables == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "ServiceAs is Specific, but no environment variable source is configured")
	}
	value, found, err := r.deps.Variables.EnvironmentVariable(ctx, envVar)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "reading environment variable %s: %s", envVar, err.Error()).WithCause(err)
	}
	if !found || strings.TrimSpace(value) == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "environment variable %s has no value", envVar)
	}
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "environment variable %s is not a user id: %q", envVar, value).WithCause(err)
	}
	return &id, nil
}

func (r *Runner) createService(ctx context.Context, p Plugin, ec *xrm.ExecutionContext, tracer *tracing.Tracer) (OrganizationService, error) {
	userID, err := r.ActingUser(ctx, p, ec)
	if err != nil {
		return nil, err
	}
	if r.deps.Services == nil {
		return nil, nil
	}
	as, _ := identityOf(p)
	if userID == nil {
		tracer.TraceLevel(tracing.LevelDebug, "Service as %s", as)
	} else {
		tracer.TraceLevel(tracing.LevelDebug, "Service as %s: %s", as, userID)
	}
	svc, err := r.deps.Services.CreateService(ctx, userID)
	if err != nil {
		if _, ok := schema.AsPluginError(err); ok {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeIdentity, "creating organization service: %s", err.Error()).WithCause(err)
	}
	return svc, nil
}

func traceContext(tracer *tracing.Tracer, ec *xrm.ExecutionContext) {
	tracer.TraceLevel(tracing.LevelDebug, "Context: %s %s %s, stage %d, mode %d, depth %d",
		ec.MessageName, ec.PrimaryEntityName, ec.PrimaryEntityID, ec.Stage, ec.Mode, ec.Depth)
	tracer.TraceLevel(tracing.LevelDebug, "User: %s, initiating user: %s, correlation: %s",
		ec.UserID, ec.InitiatingUserID, ec.CorrelationID)
}

func (r *Runner) record(ctx context.Context, ec *xrm.ExecutionContext, out *Outcome) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveInvocation(out.Plugin, out.Status, out.Duration)
	}
	logger := logging.LogWith(ctx, r.logger)
	logger.Info("plugin invocation finished",
		"status", string(out.Status),
		"duration", out.Duration,
	)
	if r.deps.Journal == nil {
		return
	}
	inv := &schema.Invocation{
		ID:            out.InvocationID.String(),
		Plugin:        out.Plugin,
		Message:       ec.MessageName,
		Stage:         ec.Stage,
		Entity:        ec.PrimaryEntityName,
		EntityID:      ec.PrimaryEntityID.String(),
		CorrelationID: ec.CorrelationID.String(),
		Status:        out.Status,
		Diagnostic:    out.Diagnostic,
		StartedAt:     out.StartedAt,
		Duration:      out.Duration,
		Trace:         out.Trace,
	}
	if out.Error != nil {
		inv.ErrorCode = out.Error.Code
		if inv.Diagnostic == "" {
			inv.Diagnostic = out.Error.Message
		}
	}
	if err := r.deps.Journal.RecordInvocation(context.WithoutCancel(ctx), inv); err != nil {
		logger.Warn("journal write failed", "error", err)
	}
}
