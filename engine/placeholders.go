package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pipeline "github.com/goliatone/go-pipeline"
)

// placeholderPattern matches {{ step-id.key[.key...] }}.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_-]+)((?:\.[A-Za-z0-9_-]+)+)\s*\}\}`)

type reference struct {
	raw    string
	stepID string
	path   []string
}

func parseReferences(s string) []reference {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	out := make([]reference, 0, len(matches))
	for _, m := range matches {
		out = append(out, reference{
			raw:    m[0],
			stepID: m[1],
			path:   strings.Split(strings.TrimPrefix(m[2], "."), "."),
		})
	}
	return out
}

// checkPlaceholders rejects references to unknown steps and to steps that
// do not run before the referencing one.
func checkPlaceholders(cfg pipeline.PipelineConfig) error {
	for idx, step := range cfg.Processors {
		var err error
		walkStrings(step.Config, func(s string) {
			if err != nil {
				return
			}
			for _, ref := range parseReferences(s) {
				at := cfg.IndexOf(ref.stepID)
				switch {
				case at < 0:
					err = pipeline.NewConfigurationError(
						fmt.Sprintf("step %q references unknown step %q", step.ID, ref.stepID),
						map[string]any{"step_id": step.ID, "reference": ref.raw},
					)
				case at >= idx:
					err = pipeline.NewConfigurationError(
						fmt.Sprintf("step %q references step %q which does not run before it", step.ID, ref.stepID),
						map[string]any{"step_id": step.ID, "reference": ref.raw},
					)
				}
				if err != nil {
					return
				}
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func walkStrings(v any, visit func(string)) {
	switch typed := v.(type) {
	case string:
		visit(typed)
	case map[string]any:
		for _, inner := range typed {
			walkStrings(inner, visit)
		}
	case []any:
		for _, inner := range typed {
			walkStrings(inner, visit)
		}
	}
}

// resolvePlaceholders returns a copy of config with every placeholder
// replaced by the referenced earlier output. A string that is exactly one
// placeholder takes the referenced value with its type; placeholders inside
// longer strings are formatted into it.
func resolvePlaceholders(config map[string]any, outputs map[string]map[string]any) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}
	out, err := resolveValue(config, outputs)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func resolveValue(v any, outputs map[string]map[string]any) (any, error) {
	switch typed := v.(type) {
	case string:
		return resolveString(typed, outputs)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			resolved, err := resolveValue(inner, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			resolved, err := resolveValue(inner, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, outputs map[string]map[string]any) (any, error) {
	refs := parseReferences(s)
	if len(refs) == 0 {
		return s, nil
	}
	if len(refs) == 1 && strings.TrimSpace(s) == refs[0].raw {
		return lookup(refs[0], outputs)
	}
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(s, func(raw string) string {
		ref := parseReferences(raw)[0]
		v, err := lookup(ref, outputs)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return raw
		}
		return fmt.Sprint(v)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func lookup(ref reference, outputs map[string]map[string]any) (any, error) {
	output, ok := outputs[ref.stepID]
	if !ok {
		return nil, pipeline.NewConfigurationError(
			fmt.Sprintf("placeholder %s: step %q has no completed output", ref.raw, ref.stepID),
			map[string]any{"reference": ref.raw},
		)
	}
	var cur any = output
	for _, key := range ref.path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, missingKey(ref, key)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, missingKey(ref, key)
			}
			cur = node[i]
		default:
			return nil, missingKey(ref, key)
		}
	}
	return pipeline.CloneValue(cur), nil
}

func missingKey(ref reference, key string) error {
	return pipeline.NewConfigurationError(
		fmt.Sprintf("placeholder %s: key %q not found in output of step %q", ref.raw, key, ref.stepID),
		map[string]any{"reference": ref.raw, "key": key},
	)
}
