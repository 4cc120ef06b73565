package resolver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/pipestack/internal/stack"
)

// Document is a decoded pipeline configuration document.
type Document map[string]any

func ParseDocument(input []byte) (Document, error) {
	var raw any
	if err := yaml.Unmarshal(input, &raw); err != nil {
		return nil, fmt.Errorf("decode pipeline document: %w", err)
	}
	if raw == nil {
		return Document{}, nil
	}
	m, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("pipeline document must be a mapping, got %T", raw)
	}
	return Document(m), nil
}

func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline document: %w", err)
	}
	return ParseDocument(data)
}

// normalize converts mappings with non-string keys so the document can be
// handed to the schema validator as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// stackConfigFromDocument reads an inline stack definition through the same
// decoder as a stack file.
func stackConfigFromDocument(m map[string]any) (stack.Config, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return stack.Config{}, fmt.Errorf("encode inline stack: %w", err)
	}
	return stack.ParseConfig(data)
}
