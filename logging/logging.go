// Package logging adapts go-logger to pipeline.Logger.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/goliatone/go-logger/glog"

	pipeline "github.com/goliatone/go-pipeline"
)

// Options selects the output of New.
type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

// New builds a go-logger instance, JSON when Format is "json", and wraps it.
func New(opts Options) pipeline.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level := opts.Level
	if level == "" {
		level = "info"
	}
	if opts.Format == "json" {
		return Wrap(glog.NewLogger(glog.WithWriter(w), glog.WithLevel(level), glog.WithLoggerTypeJSON()))
	}
	return Wrap(glog.NewLogger(glog.WithWriter(w), glog.WithLevel(level)))
}

// Wrap adapts an existing go-logger logger. A nil logger yields the
// pipeline fallback.
func Wrap(l glog.Logger) pipeline.Logger {
	if l == nil {
		return pipeline.NormalizeLogger(nil)
	}
	return adapter{logger: l}
}

type adapter struct {
	logger glog.Logger
}

func (a adapter) Trace(msg string, args ...any) { a.logger.Trace(msg, args...) }
func (a adapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a adapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a adapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a adapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a adapter) Fatal(msg string, args ...any) { a.logger.Fatal(msg, args...) }

func (a adapter) WithContext(ctx context.Context) pipeline.Logger {
	return adapter{logger: a.logger.WithContext(ctx)}
}

func (a adapter) WithFields(fields map[string]any) pipeline.Logger {
	if fl, ok := a.logger.(glog.FieldsLogger); ok {
		return adapter{logger: fl.WithFields(fields)}
	}
	return a
}
