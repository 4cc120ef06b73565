package resolver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/animus-labs/pipestack/internal/domain"
)

// documentSchema lists the keys that must be present before resolution
// starts. Everything else is optional and checked where it is used.
const documentSchema = `{
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "steps": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["source"]
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	})
	return schema, schemaErr
}

// KeyCheck fails with a ConfigurationError listing every missing required
// key as a dotted path, sorted.
func KeyCheck(doc Document) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(normalize(map[string]any(doc))))
	if err != nil {
		return &domain.ConfigurationError{Message: "document cannot be validated", Err: err}
	}
	if result.Valid() {
		return nil
	}

	var missing, other []string
	for _, re := range result.Errors() {
		field := re.Field()
		if field == "(root)" {
			field = ""
		}
		if re.Type() == "required" {
			prop, _ := re.Details()["property"].(string)
			missing = append(missing, joinPath(field, prop))
			continue
		}
		other = append(other, fmt.Sprintf("%s: %s", displayPath(field), re.Description()))
	}
	sort.Strings(missing)
	sort.Strings(other)
	if len(missing) > 0 {
		return &domain.ConfigurationError{Missing: missing}
	}
	return &domain.ConfigurationError{Message: strings.Join(other, "; ")}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func displayPath(field string) string {
	if field == "" {
		return "document"
	}
	return field
}
