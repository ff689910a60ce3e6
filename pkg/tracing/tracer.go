package tracing

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rappen/RappSack/pkg/schema"
)

// Level is the severity of a trace line.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInformation
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInformation:
		return "information"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Timing controls the prefix written before each line.
type Timing int

const (
	// TimingNone writes lines without a time prefix.
	TimingNone Timing = iota
	// TimingElapsedSinceLast prefixes each line with the time since the previous one.
	TimingElapsedSinceLast
)

// Sink receives formatted trace lines.
type Sink interface {
	Write(level Level, line string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(level Level, line string)

// Write calls f.
func (f SinkFunc) Write(level Level, line string) { f(level, line) }

// Tracer writes leveled, indentable lines to one or more sinks. It is safe for
// concurrent use.
type Tracer struct {
	mu     sync.Mutex
	sinks  []Sink
	timing Timing
	indent int
	last   time.Time
	now    func() time.Time
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) { t.now = now }
}

// WithTiming selects the line prefix.
func WithTiming(timing Timing) Option {
	return func(t *Tracer) { t.timing = timing }
}

// New returns a tracer writing to sinks.
func New(sinks []Sink, opts ...Option) *Tracer {
	t := &Tracer{sinks: sinks, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.last = t.now()
	return t
}

// Nop returns a tracer that discards everything.
func Nop() *Tracer { return New(nil) }

// Trace writes an information line formatted with fmt.Sprintf.
func (t *Tracer) Trace(format string, args ...any) {
	t.TraceLevel(LevelInformation, format, args...)
}

// TraceLevel writes a line at the given level.
func (t *Tracer) TraceLevel(level Level, format string, args ...any) {
	t.write(level, fmt.Sprintf(format, args...), true)
}

// TraceRaw writes an information line with neither time prefix nor indentation.
func (t *Tracer) TraceRaw(message string) {
	t.write(LevelInformation, message, false)
}

// TraceError writes err at error level. Structured errors also list their
// code and any underlying cause.
func (t *Tracer) TraceError(err error) {
	if err == nil {
		return
	}
	var pe *schema.PluginError
	if !errors.As(err, &pe) {
		t.TraceLevel(LevelError, "%T: %s", err, err.Error())
		return
	}
	t.TraceLevel(LevelError, "%s: %s", pe.Code, pe.Message)
	if pe.Cause != nil {
		t.In()
		t.TraceLevel(LevelError, "caused by %T: %s", pe.Cause, pe.Cause.Error())
		t.Out()
	}
}

// In increases the indentation by one step.
func (t *Tracer) In() {
	t.mu.Lock()
	t.indent++
	t.mu.Unlock()
}

// Out decreases the indentation by one step, never below zero.
func (t *Tracer) Out() {
	t.mu.Lock()
	if t.indent > 0 {
		t.indent--
	}
	t.mu.Unlock()
}

// Block traces title and indents the following lines until the returned
// func is called.
//
//	defer tr.Block("Verify")()
func (t *Tracer) Block(title string) func() {
	t.Trace("%s", title)
	t.In()
	return t.Out
}

func (t *Tracer) write(level Level, msg string, decorate bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	now := t.now()
	var b strings.Builder
	if decorate {
		if t.timing == TimingElapsedSinceLast {
			fmt.Fprintf(&b, "%s ", formatElapsed(now.Sub(t.last)))
		}
		b.WriteString(strings.Repeat(" ", t.indent*2))
	}
	t.last = now
	b.WriteString(msg)
	line := b.String()
	sinks := t.sinks
	t.mu.Unlock()

	for _, s := range sinks {
		s.Write(level, line)
	}
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("+%06.3f", d.Seconds())
}

// SmartDuration renders d in the largest unit that keeps it readable.
func SmartDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%d µs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%d ms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.3f sec", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%d min %d sec", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%d h %d min", int(d.Hours()), int(d.Minutes())%60)
}
