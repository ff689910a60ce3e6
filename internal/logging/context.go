package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	invocationIDKey
	pluginKey
	messageKey
	entityKey
)

// Attribute names added to log records.
const (
	AttrCorrelationID = "correlation_id"
	AttrInvocationID  = "invocation_id"
	AttrPlugin        = "plugin"
	AttrMessage       = "message"
	AttrEntity        = "entity"
)

// WithCorrelationID returns a context carrying the platform correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithInvocationID returns a context carrying the invocation id.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey, id)
}

// WithPlugin returns a context carrying the plugin name.
func WithPlugin(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, pluginKey, name)
}

// WithMessage returns a context carrying the message name.
func WithMessage(ctx context.Context, message string) context.Context {
	return context.WithValue(ctx, messageKey, message)
}

// WithEntity returns a context carrying the primary entity name.
func WithEntity(ctx context.Context, entity string) context.Context {
	return context.WithValue(ctx, entityKey, entity)
}

// Invocation describes one plugin invocation for logging.
type Invocation struct {
	CorrelationID string
	InvocationID  string
	Plugin        string
	Message       string
	Entity        string
}

// WithInvocation sets every invocation field on the context at once.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	ctx = WithCorrelationID(ctx, inv.CorrelationID)
	ctx = WithInvocationID(ctx, inv.InvocationID)
	ctx = WithPlugin(ctx, inv.Plugin)
	ctx = WithMessage(ctx, inv.Message)
	ctx = WithEntity(ctx, inv.Entity)
	return ctx
}

// CorrelationID extracts the correlation id, or "" if absent.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// InvocationID extracts the invocation id, or "" if absent.
func InvocationID(ctx context.Context) string {
	v, _ := ctx.Value(invocationIDKey).(string)
	return v
}

// Plugin extracts the plugin name, or "" if absent.
func Plugin(ctx context.Context) string {
	v, _ := ctx.Value(pluginKey).(string)
	return v
}

// Message extracts the message name, or "" if absent.
func Message(ctx context.Context) string {
	v, _ := ctx.Value(messageKey).(string)
	return v
}

// Entity extracts the primary entity name, or "" if absent.
func Entity(ctx context.Context) string {
	v, _ := ctx.Value(entityKey).(string)
	return v
}

func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, f := range []struct {
		key string
		get func(context.Context) string
	}{
		{AttrCorrelationID, CorrelationID},
		{AttrInvocationID, InvocationID},
		{AttrPlugin, Plugin},
		{AttrMessage, Message},
		{AttrEntity, Entity},
	} {
		if v := f.get(ctx); v != "" {
			attrs = append(attrs, slog.String(f.key, v))
		}
	}
	return attrs
}

// LogWith returns a logger enriched with the invocation fields of ctx.
// Only non-empty values are added.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range contextAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and adds the invocation fields of
// the record's context, so logger.InfoContext(ctx, ...) is enough.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(contextAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
