package config

import (
	_ "embed" // Required for //go:embed directive
	"fmt"
	"sync"

	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed livecache_schema_v1.0.0.json
var schemaV1Bytes []byte

var (
	// schemaV1 holds the compiled schema object for efficient validation.
	schemaV1 *gojsonschema.Schema
	// schemaOnce ensures the schema is loaded and compiled only once.
	schemaOnce sync.Once
	// schemaErr stores any error encountered during the one-time schema load.
	schemaErr error
)

// loadSchema compiles the embedded schema once and returns the cached result.
func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemaV1Bytes) == 0 {
			schemaErr = lcerrors.NewConfigError("embedded schema 'livecache_schema_v1.0.0.json' is empty or not found", nil)
			return
		}
		schemaV1, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaV1Bytes))
		if schemaErr != nil {
			schemaErr = lcerrors.NewConfigError("failed to compile embedded schema 'livecache_schema_v1.0.0.json'", schemaErr)
		}
	})
	return schemaV1, schemaErr
}

// ValidateWithSchema validates the given YAML document against the embedded
// v1.0.0 schema. The YAML is decoded into generic Go values first because the
// validator works on JSON-like data structures.
func ValidateWithSchema(documentYAML []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	var jsonData interface{}
	if err := yaml.Unmarshal(documentYAML, &jsonData); err != nil {
		return lcerrors.NewConfigError("failed to parse config YAML for schema validation", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(jsonData))
	if err != nil {
		return lcerrors.NewConfigError("schema validation process failed", err)
	}

	if !result.Valid() {
		errMsg := "Config failed JSON schema validation:"
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "(root)" || field == "" {
				field = desc.Context().String()
			}
			errMsg += fmt.Sprintf("\n  - Field '%s': %s", field, desc.Description())
		}
		return lcerrors.NewValidationError(errMsg, nil)
	}
	return nil
}
