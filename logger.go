package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger is the logging contract every component accepts.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// FieldsLogger is implemented by loggers that carry structured fields.
type FieldsLogger interface {
	WithFields(map[string]any) Logger
}

// FmtLogger writes one line per entry: timestamp, level, message, sorted fields.
type FmtLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	fields map[string]any
}

// NewFmtLogger writes to out, or stderr when out is nil.
func NewFmtLogger(out io.Writer) *FmtLogger {
	if out == nil {
		out = os.Stderr
	}
	return &FmtLogger{mu: &sync.Mutex{}, out: out}
}

func (l *FmtLogger) Trace(msg string, args ...any) { l.write("TRACE", msg, args) }
func (l *FmtLogger) Debug(msg string, args ...any) { l.write("DEBUG", msg, args) }
func (l *FmtLogger) Info(msg string, args ...any)  { l.write("INFO", msg, args) }
func (l *FmtLogger) Warn(msg string, args ...any)  { l.write("WARN", msg, args) }
func (l *FmtLogger) Error(msg string, args ...any) { l.write("ERROR", msg, args) }
func (l *FmtLogger) Fatal(msg string, args ...any) { l.write("FATAL", msg, args) }

func (l *FmtLogger) WithContext(context.Context) Logger {
	if l == nil {
		return NewFmtLogger(nil)
	}
	return l
}

func (l *FmtLogger) WithFields(fields map[string]any) Logger {
	if l == nil {
		l = NewFmtLogger(nil)
	}
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &FmtLogger{mu: l.mu, out: l.out, fields: merged}
}

func (l *FmtLogger) write(level, msg string, args []any) {
	if l == nil {
		l = NewFmtLogger(nil)
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(strings.TrimSpace(msg))

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, b.String())
}

// NormalizeLogger returns logger, or a stderr FmtLogger when it is nil.
func NormalizeLogger(logger Logger) Logger {
	if logger == nil {
		return NewFmtLogger(nil)
	}
	return logger
}

// WithFields attaches fields when the logger supports them.
func WithFields(logger Logger, fields map[string]any) Logger {
	logger = NormalizeLogger(logger)
	if len(fields) == 0 {
		return logger
	}
	if fl, ok := logger.(FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}
