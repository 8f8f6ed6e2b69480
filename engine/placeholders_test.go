package engine

import (
	"testing"

	pipeline "github.com/goliatone/go-pipeline"
)

func TestResolvePlaceholders(t *testing.T) {
	outputs := map[string]map[string]any{
		"ocr": {
			"text":  "hello",
			"pages": float64(3),
			"meta":  map[string]any{"lang": "en", "scores": []any{0.9, 0.1}},
		},
	}
	cfg := map[string]any{
		"plain":  "no placeholders",
		"text":   "{{ ocr.text }}",
		"pages":  "{{ocr.pages}}",
		"lang":   "{{ ocr.meta.lang }}",
		"score":  "{{ ocr.meta.scores.0 }}",
		"mixed":  "lang={{ ocr.meta.lang }} pages={{ ocr.pages }}",
		"nested": map[string]any{"list": []any{"{{ ocr.text }}", 7}},
	}

	got, err := resolvePlaceholders(cfg, outputs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got["plain"] != "no placeholders" || got["text"] != "hello" {
		t.Fatalf("unexpected strings: %+v", got)
	}
	if got["pages"] != float64(3) {
		t.Fatalf("expected whole placeholder to keep its type, got %T %v", got["pages"], got["pages"])
	}
	if got["lang"] != "en" || got["score"] != 0.9 {
		t.Fatalf("unexpected nested lookups: %+v", got)
	}
	if got["mixed"] != "lang=en pages=3" {
		t.Fatalf("unexpected interpolation: %v", got["mixed"])
	}
	list := got["nested"].(map[string]any)["list"].([]any)
	if list[0] != "hello" || list[1] != 7 {
		t.Fatalf("unexpected nested list: %v", list)
	}
	if cfg["text"] != "{{ ocr.text }}" {
		t.Fatalf("input config must not be mutated")
	}
}

func TestResolvePlaceholdersMissing(t *testing.T) {
	outputs := map[string]map[string]any{"ocr": {"text": "hello"}}
	cases := []string{
		"{{ classify.label }}",
		"{{ ocr.missing }}",
		"{{ ocr.text.deeper }}",
		"prefix {{ ocr.nope }}",
	}
	for _, in := range cases {
		_, err := resolvePlaceholders(map[string]any{"v": in}, outputs)
		if !pipeline.IsConfigurationError(err) {
			t.Fatalf("%s: expected configuration error, got %v", in, err)
		}
	}
}

func TestCheckPlaceholders(t *testing.T) {
	steps := func(cfg map[string]any) pipeline.PipelineConfig {
		return pipeline.PipelineConfig{Processors: []pipeline.StepConfig{
			{ID: "ocr", Type: "ocr"},
			{ID: "classify", Type: "classify", Config: cfg},
			{ID: "sign", Type: "sign"},
		}}
	}
	if err := checkPlaceholders(steps(map[string]any{"t": "{{ ocr.text }}"})); err != nil {
		t.Fatalf("expected backward reference to pass, got %v", err)
	}
	for _, ref := range []string{"{{ sign.id }}", "{{ classify.label }}", "{{ ghost.x }}"} {
		err := checkPlaceholders(steps(map[string]any{"deep": []any{map[string]any{"t": ref}}}))
		if !pipeline.IsConfigurationError(err) {
			t.Fatalf("%s: expected configuration error, got %v", ref, err)
		}
	}
}
