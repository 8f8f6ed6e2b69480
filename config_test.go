package pipeline

import (
	"testing"
)

func TestParsePipelineConfigJSON(t *testing.T) {
	cfg, err := ParsePipelineConfig([]byte(`{"processors": [{"id": "ocr", "type": "ocr", "config": {"lang": "en", "dpi": 300}}, {"id": "classify", "type": "classify", "config": {"text": "{{ ocr.text }}"}}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Processors) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(cfg.Processors))
	}
	if cfg.Processors[0].Config["dpi"] != 300 {
		t.Fatalf("expected numeric config, got %#v", cfg.Processors[0].Config["dpi"])
	}
	if cfg.IndexOf("classify") != 1 || cfg.IndexOf("missing") != -1 {
		t.Fatalf("unexpected IndexOf results")
	}
	if got := cfg.Slugs(); len(got) != 2 || got[0] != "ocr" || got[1] != "classify" {
		t.Fatalf("unexpected slugs %v", got)
	}
}

func TestParsePipelineConfigYAML(t *testing.T) {
	cfg, err := ParsePipelineConfig([]byte(`
processors:
  - id: extract
    type: extract
  - id: summarize
    type: summarize
    config:
      input: "{{ extract.text }}"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Processors[1].Config["input"] != "{{ extract.text }}" {
		t.Fatalf("unexpected config %v", cfg.Processors[1].Config)
	}
}

func TestParsePipelineConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"syntax":     `{"processors": [`,
		"missing id": `{"processors": [{"type": "ocr"}]}`,
		"no type":    `{"processors": [{"id": "ocr"}]}`,
		"duplicate":  `{"processors": [{"id": "a", "type": "ocr"}, {"id": "a", "type": "lang"}]}`,
	}
	for name, raw := range cases {
		if _, err := ParsePipelineConfig([]byte(raw)); !IsConfigurationError(err) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := PipelineConfig{Processors: []StepConfig{
		{ID: "a", Type: "a", Config: map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{"x"}}},
		{ID: "b", Type: "b"},
	}}
	clone := cfg.Clone()
	clone.Processors[0].Config["nested"].(map[string]any)["k"] = "changed"
	clone.Processors[0].Config["list"].([]any)[0] = "y"

	if cfg.Processors[0].Config["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("clone shares nested maps")
	}
	if cfg.Processors[0].Config["list"].([]any)[0] != "x" {
		t.Fatalf("clone shares slices")
	}
	if clone.Processors[1].Config != nil {
		t.Fatalf("expected nil config to stay nil")
	}
}
