package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	pipeline "github.com/goliatone/go-pipeline"
)

// Factory binds implementation keys, as stored in the processor catalog, to
// executable units compiled into the binary.
type Factory struct {
	mu    sync.RWMutex
	impls map[string]pipeline.Processor
}

// NewFactory returns a factory holding the built-in processors.
func NewFactory() *Factory {
	f := &Factory{impls: make(map[string]pipeline.Processor)}
	f.impls[NoopKey] = pipeline.ProcessorFunc(noop)
	f.impls[DocumentMetadataKey] = pipeline.ProcessorFunc(documentMetadata)
	return f
}

// Add binds key to proc. A key can be bound once.
func (f *Factory) Add(key string, proc pipeline.Processor) error {
	if key == "" || proc == nil {
		return fmt.Errorf("implementation key and processor required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.impls[key]; exists {
		return fmt.Errorf("implementation %s already registered", key)
	}
	f.impls[key] = proc
	return nil
}

func (f *Factory) Lookup(key string) (pipeline.Processor, bool) {
	if f == nil {
		return nil, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.impls[key]
	return p, ok
}

// Keys returns the bound implementation keys, sorted.
func (f *Factory) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.impls))
	for k := range f.impls {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const (
	NoopKey             = "noop"
	DocumentMetadataKey = "document_metadata"
)

// BuiltinDefinitions are catalog rows for the built-in processors.
func BuiltinDefinitions() []pipeline.ProcessorDefinition {
	return []pipeline.ProcessorDefinition{
		{
			Slug:           NoopKey,
			Name:           "No-op",
			Version:        "1",
			Category:       "utility",
			Implementation: NoopKey,
			Enabled:        true,
		},
		{
			Slug:           DocumentMetadataKey,
			Name:           "Document metadata",
			Version:        "1",
			Category:       "utility",
			Implementation: DocumentMetadataKey,
			OutputSchema: map[string]any{
				"type":     "object",
				"required": []any{"content_hash", "mime_type", "size"},
			},
			Enabled: true,
		},
	}
}

func noop(context.Context, pipeline.Document, map[string]any, pipeline.StepContext) (pipeline.Result, error) {
	return pipeline.Result{Output: map[string]any{}}, nil
}

func documentMetadata(_ context.Context, doc pipeline.Document, _ map[string]any, _ pipeline.StepContext) (pipeline.Result, error) {
	return pipeline.Result{Output: map[string]any{
		"filename":         doc.Filename,
		"content_hash":     doc.ContentHash,
		"mime_type":        doc.MimeType,
		"size":             doc.Size,
		"storage_location": doc.StorageLocation,
	}}, nil
}
