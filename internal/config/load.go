package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersionConstraint defines the SemVer major version that loaded
// configurations must satisfy.
const SupportedSchemaVersionConstraint = "v1"

// LoadCacheConfig reads the given YAML bytes, validates them against the
// embedded JSON schema, unmarshals them strictly into a CacheConfig, checks
// schema version compatibility and performs logical validation.
func LoadCacheConfig(configYAML []byte, filePathHint string) (*CacheConfig, error) {
	if len(configYAML) == 0 {
		return nil, lcerrors.NewConfigError("cache configuration cannot be empty", nil)
	}

	// Step 1: Validate against the JSON Schema for basic structure and types.
	if err := ValidateWithSchema(configYAML); err != nil {
		return nil, lcerrors.NewConfigError(fmt.Sprintf("config '%s' failed schema validation", filePathHint), err)
	}

	// Step 2: Unmarshal into Go struct using strict decoding to catch unknown fields.
	var cfg CacheConfig
	if err := yamlUnmarshalStrict(configYAML, &cfg); err != nil {
		return nil, lcerrors.NewConfigError(fmt.Sprintf("failed to parse config YAML '%s'", filePathHint), err)
	}
	cfg.FilePath = filePathHint

	// Step 3: Check Schema Version Compatibility.
	if err := checkSchemaVersion(cfg.SchemaVersion, filePathHint); err != nil {
		return nil, err
	}

	// Step 4: Logical validation the schema cannot express.
	validationErrs := ValidateCacheConfig(&cfg)
	if len(validationErrs) > 0 {
		var errorMessages []string
		for _, vErr := range validationErrs {
			errorMessages = append(errorMessages, vErr.Error())
		}
		combinedMessage := fmt.Sprintf("config '%s' has %d validation error(s):\n- %s",
			filePathHint, len(errorMessages), strings.Join(errorMessages, "\n- "))
		return nil, lcerrors.NewValidationError(combinedMessage, validationErrs[0])
	}

	return &cfg, nil
}

// LoadCacheConfigFromFile is a convenience function to read a configuration from disk.
func LoadCacheConfigFromFile(filePath string) (*CacheConfig, error) {
	if filePath == "" {
		return nil, lcerrors.NewConfigError("config file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, lcerrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	yamlFile, err := os.ReadFile(absPath)
	if err != nil {
		return nil, lcerrors.NewConfigError(fmt.Sprintf("failed to read config file '%s'", absPath), err)
	}
	return LoadCacheConfig(yamlFile, absPath)
}

func checkSchemaVersion(version, filePathHint string) error {
	if version == "" {
		return lcerrors.NewValidationError(fmt.Sprintf("config '%s' is missing required 'schemaVersion' field", filePathHint), nil)
	}
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return lcerrors.NewValidationError(fmt.Sprintf("config '%s' has invalid 'schemaVersion' format: '%s'", filePathHint, version), nil)
	}
	if semver.Major(v) != SupportedSchemaVersionConstraint {
		return lcerrors.NewValidationError(
			fmt.Sprintf("config '%s' schemaVersion '%s' is not compatible with requirement '%s'",
				filePathHint, version, SupportedSchemaVersionConstraint),
			nil,
		)
	}
	return nil
}

// yamlUnmarshalStrict decodes YAML and rejects fields that are not defined in
// the target struct, so typos in configuration surface early.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(strings.NewReader(string(in)))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
