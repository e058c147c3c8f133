package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

// ErrSchemaViolation is returned by ValidateDocument when the document does not match the schema.
var ErrSchemaViolation = errors.New("config does not match schema")

// Violation is one schema error.
type Violation struct {
	Field       string
	Description string
}

// String implements fmt.Stringer.
func (v Violation) String() string {
	return v.Field + ": " + v.Description
}

// ValidateFile reads a YAML config file and checks it against the schema.
func ValidateFile(path string) ([]Violation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return ValidateDocument(data)
}

// ValidateDocument checks raw YAML against the schema. Violations are returned
// together with ErrSchemaViolation; other errors mean the document could not be checked.
func ValidateDocument(data []byte) ([]Violation, error) {
	var doc any

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	// An empty file is a valid, all-defaults config.
	if doc == nil {
		doc = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("validate schema: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]Violation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, Violation{Field: re.Field(), Description: re.Description()})
	}

	return violations, fmt.Errorf("%w: %d violation(s)", ErrSchemaViolation, len(violations))
}
