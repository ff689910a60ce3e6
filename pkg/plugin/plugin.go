package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rappen/RappSack/pkg/contextentity"
	"github.com/rappen/RappSack/pkg/tracing"
	"github.com/rappen/RappSack/pkg/xrm"
)

// Plugin is a unit of business logic bound to platform events.
type Plugin interface {
	Name() string
	Needs() Needs
	Execute(ctx context.Context, ex *Execution) error
}

// ServiceAs selects the user the organization service acts as.
type ServiceAs int

const (
	// ServiceUser acts as the user the step is registered to run as.
	ServiceUser ServiceAs = iota
	// ServiceInitiating acts as the user who started the operation.
	ServiceInitiating
	// ServiceSystem acts as the system account.
	ServiceSystem
	// ServiceSpecific acts as the user whose id is stored in an environment variable.
	ServiceSpecific
)

func (s ServiceAs) String() string {
	switch s {
	case ServiceUser:
		return "user"
	case ServiceInitiating:
		return "initiating"
	case ServiceSystem:
		return "system"
	case ServiceSpecific:
		return "specific"
	}
	return fmt.Sprintf("ServiceAs(%d)", int(s))
}

// ParseServiceAs resolves a ServiceAs name case-insensitively.
func ParseServiceAs(s string) (ServiceAs, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user":
		return ServiceUser, nil
	case "initiating":
		return ServiceInitiating, nil
	case "system":
		return ServiceSystem, nil
	case "specific":
		return ServiceSpecific, nil
	}
	return 0, fmt.Errorf("unknown service identity %q", s)
}

// Identity is implemented by plugins that choose who their service acts as.
// Plugins that do not implement it act as the registered user.
type Identity interface {
	ServiceAs() ServiceAs
	// ExecuterEnvVar names the environment variable holding the user id for ServiceSpecific.
	ExecuterEnvVar() string
}

// Base supplies defaults for plugins that embed it: no needs, acting as the
// registered user.
type Base struct{}

// Needs returns no requirements.
func (Base) Needs() Needs { return Needs{} }

// ServiceAs returns ServiceUser.
func (Base) ServiceAs() ServiceAs { return ServiceUser }

// ExecuterEnvVar returns "".
func (Base) ExecuterEnvVar() string { return "" }

// Func is business logic as a plain function.
type Func func(ctx context.Context, ex *Execution) error

// Option configures a plugin built with New.
type Option func(*funcPlugin)

// WithNeeds sets the needs.
func WithNeeds(n Needs) Option {
	return func(p *funcPlugin) { p.needs = n }
}

// WithServiceAs sets the acting identity. envVar is only used with ServiceSpecific.
func WithServiceAs(as ServiceAs, envVar string) Option {
	return func(p *funcPlugin) {
		p.as = as
		p.envVar = envVar
	}
}

// New returns a plugin running fn.
func New(name string, fn Func, opts ...Option) Plugin {
	p := &funcPlugin{name: name, fn: fn}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type funcPlugin struct {
	name   string
	needs  Needs
	as     ServiceAs
	envVar string
	fn     Func
}

func (p *funcPlugin) Name() string           { return p.name }
func (p *funcPlugin) Needs() Needs           { return p.needs }
func (p *funcPlugin) ServiceAs() ServiceAs   { return p.as }
func (p *funcPlugin) ExecuterEnvVar() string { return p.envVar }

func (p *funcPlugin) Execute(ctx context.Context, ex *Execution) error {
	if p.fn == nil {
		return nil
	}
	return p.fn(ctx, ex)
}

// WithNeedsOverride returns p with its declared needs replaced by n. The
// acting identity of p is kept.
func WithNeedsOverride(p Plugin, n Needs) Plugin {
	return &configured{Plugin: p, needs: n}
}

type configured struct {
	Plugin
	needs Needs
}

func (c *configured) Needs() Needs { return c.needs }

func (c *configured) ServiceAs() ServiceAs {
	if id, ok := c.Plugin.(Identity); ok {
		return id.ServiceAs()
	}
	return ServiceUser
}

func (c *configured) ExecuterEnvVar() string {
	if id, ok := c.Plugin.(Identity); ok {
		return id.ExecuterEnvVar()
	}
	return ""
}

func identityOf(p Plugin) (ServiceAs, string) {
	if id, ok := p.(Identity); ok {
		return id.ServiceAs(), id.ExecuterEnvVar()
	}
	return ServiceUser, ""
}

// OrganizationService is the platform data service of one invocation, bound
// to the acting user.
type OrganizationService interface {
	// CallerID returns the acting user, uuid.Nil for the system account.
	CallerID() uuid.UUID
}

// ServiceFactory creates organization services. A nil userID requests the
// system account.
type ServiceFactory interface {
	CreateService(ctx context.Context, userID *uuid.UUID) (OrganizationService, error)
}

// EnvironmentVariables reads environment variable values with system rights.
type EnvironmentVariables interface {
	EnvironmentVariable(ctx context.Context, name string) (string, bool, error)
}

// Execution is what business logic gets to work with.
type Execution struct {
	InvocationID uuid.UUID
	Context      *xrm.ExecutionContext
	// Entity resolves the views of the single target.
	Entity *contextentity.ContextEntity
	// Entities resolves the views of every record of a bulk operation.
	Entities *contextentity.Collection
	// Service is nil when the runner has no service factory.
	Service OrganizationService
	Tracer  *tracing.Tracer
	Logger  *slog.Logger
}

// Target is the Target view of the single target.
func (ex *Execution) Target() *xrm.Entity {
	return ex.Entity.Target()
}

// Trace writes an information line to the invocation trace.
func (ex *Execution) Trace(format string, args ...any) {
	ex.Tracer.Trace(format, args...)
}
