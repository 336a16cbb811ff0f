package suite

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaDoc describes the suite document shape from spec §3 as a JSON
// Schema, compiled once and reused across Validate calls the way the
// teacher compiles `.templr.schema.yml` in internal/app/schema.go.
var schemaDoc = map[string]any{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type":    "object",
	"required": []any{"manifest"},
	"properties": map[string]any{
		"manifest": map[string]any{
			"type":     "object",
			"required": []any{"id", "files"},
			"properties": map[string]any{
				"id": map[string]any{"type": "string"},
				"filter": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "object"},
				},
				"files": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items": map[string]any{
						"type":     "object",
						"required": []any{"label"},
						"properties": map[string]any{
							"label":    map[string]any{"type": "string"},
							"value":    map[string]any{"type": "string"},
							"multiple": map[string]any{"type": "boolean"},
							"optional": map[string]any{"type": "boolean"},
							"linkedto": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
		"stages": map[string]any{
			"type": "object",
			"additionalProperties": map[string]any{
				"type":     "object",
				"required": []any{"script"},
				"properties": map[string]any{
					"script": map[string]any{"type": "string"},
					"loopvars": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
			},
		},
	},
}

// Validate checks a decoded-YAML document (as produced by
// yaml.Unmarshal(data, &any{})) against the suite schema in §3.
func Validate(doc any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("suite.json", schemaDoc); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	schema, err := compiler.Compile("suite.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	normalized, err := normalizeForValidation(doc)
	if err != nil {
		return err
	}

	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("suite document is invalid: %w", err)
	}
	return nil
}

// normalizeForValidation converts map[any]any (what yaml.v3 may produce for
// nested mappings when unmarshaled into `any`) into map[string]any
// recursively, since jsonschema/v6 only accepts JSON-shaped values.
func normalizeForValidation(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			nv, err := normalizeForValidation(val)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v in suite document", k)
			}
			nv, err := normalizeForValidation(val)
			if err != nil {
				return nil, err
			}
			out[ks] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ne, err := normalizeForValidation(e)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	default:
		return v, nil
	}
}
