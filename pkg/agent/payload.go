package agent

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/conduit/pkg/schema"
)

// extractJSON strips markdown fences and prose around the first JSON object.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimLeft(trimmed, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		trimmed = strings.TrimSpace(trimmed)
	}
	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if obj, ok := extractJSONObject(trimmed); ok {
		return obj
	}
	return trimmed
}

func extractJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escape := false
	for i, r := range text {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			if escape {
				escape = false
				continue
			}
			if r == '\\' {
				escape = true
				continue
			}
			if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(text[start : i+1]), true
			}
		}
	}
	return "", false
}

// envelope is the part of every reply the driver gates on.
type envelope struct {
	Confidence float64
	Reasoning  string
}

// envelopeSchema is checked on every reply.
var envelopeSchema = schema.Schema{
	"confidence": schema.Custom("confidence", func(v any) error {
		conf, ok := v.(float64)
		if !ok {
			return fmt.Errorf("must be a number, got %T", v)
		}
		if conf < 0 || conf > 1 {
			return fmt.Errorf("%v outside [0,1]", conf)
		}
		return nil
	}),
}

// decodePayload reads a reply into out (via mapstructure tags) and returns the
// confidence and reasoning. shape lists the keys that must be present with
// their types, on top of the envelope.
func decodePayload(text string, out any, shape schema.Schema) (envelope, error) {
	var env envelope
	var payload map[string]any
	if err := json.Unmarshal([]byte(extractJSON(text)), &payload); err != nil {
		return env, fmt.Errorf("malformed JSON: %w", err)
	}

	full := make(schema.Schema, len(shape)+len(envelopeSchema))
	maps.Copy(full, envelopeSchema)
	maps.Copy(full, shape)
	if err := schema.Validate(full, payload); err != nil {
		return env, err
	}
	env.Confidence = payload["confidence"].(float64)
	if r, ok := payload["reasoning"].(string); ok {
		env.Reasoning = r
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return env, err
	}
	if err := dec.Decode(payload); err != nil {
		return env, fmt.Errorf("schema mismatch: %w", err)
	}
	return env, nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s %q is not one of %v", field, value, allowed)
}
