package tracing

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Extra slog levels around the standard four.
const (
	slogLevelTrace    = slog.LevelDebug - 4
	slogLevelCritical = slog.LevelError + 4
)

// SlogLevel maps a trace level to a slog level.
func SlogLevel(l Level) slog.Level {
	switch l {
	case LevelTrace:
		return slogLevelTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return slogLevelCritical
	}
	return slog.LevelInfo
}

// SlogSink forwards trace lines to a slog logger. Attributes attached to ctx
// by the logging handler are picked up on every line.
type SlogSink struct {
	Logger *slog.Logger
	Ctx    context.Context
}

// Write implements Sink.
func (s SlogSink) Write(level Level, line string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Log(ctx, SlogLevel(level), line)
}

// Buffer keeps trace lines in memory so they can be returned to the caller
// of an invocation, the way the platform keeps a plugin trace log.
type Buffer struct {
	mu       sync.Mutex
	lines    []string
	minLevel Level
}

// NewBuffer returns a buffer keeping lines at minLevel or above.
func NewBuffer(minLevel Level) *Buffer {
	return &Buffer{minLevel: minLevel}
}

// Write implements Sink.
func (b *Buffer) Write(level Level, line string) {
	if level < b.minLevel {
		return
	}
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Lines returns a copy of the buffered lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.lines)
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
