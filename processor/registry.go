// Package processor maps processor slugs to executable units and their
// catalog metadata. A Registry belongs to one tenant activation.
package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"dario.cat/mergo"
	json "github.com/goccy/go-json"
	"github.com/google/jsonschema-go/jsonschema"

	pipeline "github.com/goliatone/go-pipeline"
)

type entry struct {
	def    pipeline.ProcessorDefinition
	proc   pipeline.Processor
	output *jsonschema.Resolved
}

// Registry holds the processors available to one tenant. It is immutable
// once a run starts; the provider builds a fresh one per activation.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a processor under slug. Registering a slug twice fails.
func (r *Registry) Register(slug string, proc pipeline.Processor, meta pipeline.ProcessorDefinition) error {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return fmt.Errorf("processor slug required")
	}
	if proc == nil {
		return fmt.Errorf("processor %s: executable required", slug)
	}
	meta.Slug = slug

	var resolved *jsonschema.Resolved
	if len(meta.OutputSchema) > 0 {
		var err error
		resolved, err = compileSchema(meta.OutputSchema)
		if err != nil {
			return pipeline.NewConfigurationError(
				fmt.Sprintf("processor %s: invalid output schema: %v", slug, err),
				map[string]any{"processor": slug},
			)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[slug]; exists {
		return fmt.Errorf("processor %s already registered", slug)
	}
	r.entries[slug] = &entry{def: meta, proc: proc, output: resolved}
	return nil
}

func (r *Registry) Has(slug string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[slug]
	return ok
}

// Resolve returns the executable and metadata for slug, or an
// UnknownProcessorError.
func (r *Registry) Resolve(slug string) (pipeline.Processor, pipeline.ProcessorDefinition, error) {
	if r == nil {
		return nil, pipeline.ProcessorDefinition{}, pipeline.NewUnknownProcessorError(slug)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[slug]
	if !ok {
		return nil, pipeline.ProcessorDefinition{}, pipeline.NewUnknownProcessorError(slug)
	}
	return e.proc, e.def, nil
}

// Definition returns the metadata for slug.
func (r *Registry) Definition(slug string) (pipeline.ProcessorDefinition, bool) {
	_, def, err := r.Resolve(slug)
	return def, err == nil
}

// Dependencies returns the declared dependency slugs of slug.
func (r *Registry) Dependencies(slug string) ([]string, error) {
	_, def, err := r.Resolve(slug)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), def.Dependencies...), nil
}

// Slugs returns the registered slugs, sorted.
func (r *Registry) Slugs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for slug := range r.entries {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// ResolveConfig layers the step config over the processor default config.
// Step values win; nested maps are merged.
func (r *Registry) ResolveConfig(slug string, step map[string]any) (map[string]any, error) {
	_, def, err := r.Resolve(slug)
	if err != nil {
		return nil, err
	}
	out := pipeline.CloneValue(step).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	if len(def.DefaultConfig) == 0 {
		return out, nil
	}
	defaults := pipeline.CloneValue(def.DefaultConfig).(map[string]any)
	if err := mergo.Merge(&out, defaults); err != nil {
		return nil, fmt.Errorf("merge default config for %s: %w", slug, err)
	}
	return out, nil
}

// ValidateOutput checks output against the processor output schema, if any.
func (r *Registry) ValidateOutput(slug string, output map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[slug]
	r.mu.RUnlock()
	if !ok {
		return pipeline.NewUnknownProcessorError(slug)
	}
	if e.output == nil {
		return nil
	}
	instance, err := normalize(output)
	if err != nil {
		return err
	}
	if err := e.output.Validate(instance); err != nil {
		return fmt.Errorf("output does not match schema: %w", err)
	}
	return nil
}

// Catalog lists the persisted processor definitions of the active tenant.
// *store.Repository implements it.
type Catalog interface {
	ListProcessors(ctx context.Context) ([]pipeline.ProcessorDefinition, error)
}

// LoadFromStore registers every catalog entry whose implementation key is
// known to the factory. The catalog must read from an active tenant store.
func (r *Registry) LoadFromStore(ctx context.Context, catalog Catalog, factory *Factory, logger pipeline.Logger) error {
	logger = pipeline.NormalizeLogger(logger)
	defs, err := catalog.ListProcessors(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		key := def.Implementation
		if key == "" {
			key = def.Slug
		}
		proc, ok := factory.Lookup(key)
		if !ok {
			logger.Warn("processor %s: no implementation registered for %q, skipped", def.Slug, key)
			continue
		}
		if err := r.Register(def.Slug, proc, def); err != nil {
			return err
		}
	}
	return nil
}

func compileSchema(raw map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}

// normalize turns processor output into plain JSON values so numbers and
// nested structs validate the same way they are stored.
func normalize(output map[string]any) (map[string]any, error) {
	if output == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
