package pipeline

import (
	"context"
	"time"
)

// Processor is one executable pipeline unit. Implementations must honor
// ctx cancellation on any blocking call.
type Processor interface {
	Process(ctx context.Context, doc Document, config map[string]any, step StepContext) (Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, doc Document, config map[string]any, step StepContext) (Result, error)

func (f ProcessorFunc) Process(ctx context.Context, doc Document, config map[string]any, step StepContext) (Result, error) {
	return f(ctx, doc, config, step)
}

// StepContext is what a processor sees of the job it runs in.
type StepContext struct {
	TenantID     string
	JobID        string
	DocumentID   string
	StepIndex    int
	StepID       string
	PriorOutputs map[string]map[string]any
}

// Output returns the output of an earlier step by id.
func (s StepContext) Output(stepID string) (map[string]any, bool) {
	out, ok := s.PriorOutputs[stepID]
	return out, ok
}

// Result is the typed result a processor returns.
type Result struct {
	Output     map[string]any
	TokensUsed int64
	Cost       float64
}

// ProcessorDefinition is the persisted catalog row describing a processor.
type ProcessorDefinition struct {
	Slug           string         `json:"slug" yaml:"slug"`
	Name           string         `json:"name" yaml:"name"`
	Version        string         `json:"version" yaml:"version"`
	Category       string         `json:"category" yaml:"category"`
	Implementation string         `json:"implementation" yaml:"implementation"`
	Dependencies   []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	DefaultConfig  map[string]any `json:"default_config,omitempty" yaml:"default_config,omitempty"`
	ConfigSchema   map[string]any `json:"config_schema,omitempty" yaml:"config_schema,omitempty"`
	OutputSchema   map[string]any `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	CreatedAt      time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time      `json:"updated_at" yaml:"-"`
}
