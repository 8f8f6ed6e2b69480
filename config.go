package pipeline

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// PipelineConfig is the ordered step list stored on a campaign.
type PipelineConfig struct {
	Processors []StepConfig `json:"processors" yaml:"processors"`
}

// StepConfig is one configured step: a caller-assigned id, a registry slug
// and the per-step configuration map.
type StepConfig struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ParsePipelineConfig parses the JSON (or YAML) pipeline shape and validates it.
func ParsePipelineConfig(data []byte) (PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// yaml accepts JSON documents too
		return cfg, NewError(ErrConfiguration, "parse pipeline configuration", err, nil)
	}
	return cfg, cfg.Validate()
}

// Validate checks that every step has an id and a type and that step ids
// are unique.
func (c PipelineConfig) Validate() error {
	seen := make(map[string]int, len(c.Processors))
	for idx, step := range c.Processors {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return NewConfigurationError(
				fmt.Sprintf("step %d: id required", idx),
				map[string]any{"index": idx},
			)
		}
		if strings.TrimSpace(step.Type) == "" {
			return NewConfigurationError(
				fmt.Sprintf("step %q: type required", id),
				map[string]any{"index": idx, "step_id": id},
			)
		}
		if prev, ok := seen[id]; ok {
			return NewConfigurationError(
				fmt.Sprintf("duplicate step id %q", id),
				map[string]any{"step_id": id, "first": prev, "index": idx},
			)
		}
		seen[id] = idx
	}
	return nil
}

// Slugs returns the processor slug of each step in order.
func (c PipelineConfig) Slugs() []string {
	out := make([]string, 0, len(c.Processors))
	for _, step := range c.Processors {
		out = append(out, step.Type)
	}
	return out
}

// IndexOf returns the position of a step id, or -1.
func (c PipelineConfig) IndexOf(stepID string) int {
	for idx, step := range c.Processors {
		if step.ID == stepID {
			return idx
		}
	}
	return -1
}

// Clone deep-copies the configuration so a job snapshot never shares maps
// with its campaign.
func (c PipelineConfig) Clone() PipelineConfig {
	out := PipelineConfig{Processors: make([]StepConfig, len(c.Processors))}
	for idx, step := range c.Processors {
		out.Processors[idx] = StepConfig{
			ID:     step.ID,
			Type:   step.Type,
			Config: CloneValue(step.Config).(map[string]any),
		}
	}
	return out
}

// CloneValue deep-copies maps and slices decoded from JSON or YAML.
func CloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		if typed == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = CloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = CloneValue(inner)
		}
		return out
	default:
		return v
	}
}
