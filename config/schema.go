package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// ValidateDocument checks a decoded configuration document against the
// embedded JSON schema. It reports every violation in one error.
func ValidateDocument(doc map[string]any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
