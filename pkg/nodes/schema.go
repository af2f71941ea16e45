package nodes

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateSchema checks config against a JSON schema document.
func ValidateSchema(schema map[string]any, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("%w: schema validation failed: %w", ErrInvalidConfig, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// Templated is a schema fragment accepting either the given JSON type or a
// string holding a {{ }} reference.
func Templated(jsonType string, extra map[string]any) map[string]any {
	fragment := map[string]any{"type": []string{jsonType, "string"}}
	for k, v := range extra {
		fragment[k] = v
	}

	return fragment
}
