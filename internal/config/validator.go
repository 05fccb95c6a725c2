package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/job-schema.json
var embeddedSchema []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// JobSchema returns the embedded job-file schema, for callers that want to
// print or serve it.
func JobSchema() []byte {
	return embeddedSchema
}

// getCompiledSchema compiles the embedded schema once and caches it.
func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var schemaDoc interface{}
		if err := json.Unmarshal(embeddedSchema, &schemaDoc); err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		schemaURL := "https://cyclistic.bike/schemas/job/v1/job-schema.json"
		if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}

		compiledSchema, schemaInitErr = compiler.Compile(schemaURL)
	})

	if schemaInitErr != nil {
		return nil, schemaInitErr
	}
	return compiledSchema, nil
}

// ValidateJob validates a parsed job document against the job schema.
func ValidateJob(data map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if len(data) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "required",
			Message: "job document is empty",
		})
		return result
	}

	schema, err := getCompiledSchema()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "schema",
			Message: fmt.Sprintf("failed to load schema: %v", err),
		})
		return result
	}

	// The validator expects JSON-shaped values. YAML decoding can surface
	// ints where JSON would have float64, so normalize with a round-trip.
	normalized, err := normalizeToJSON(data)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "format",
			Message: fmt.Sprintf("failed to normalize job document: %v", err),
		})
		return result
	}

	if validationErr := schema.Validate(normalized); validationErr != nil {
		result.Valid = false
		if detailed, ok := validationErr.(*jsonschema.ValidationError); ok {
			result.Errors = convertValidationErrors(detailed)
		} else {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "/",
				Type:    "validation",
				Message: validationErr.Error(),
			})
		}
	}

	return result
}

// normalizeToJSON round-trips a document through encoding/json so that all
// values carry JSON types.
func normalizeToJSON(data map[string]interface{}) (interface{}, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// convertValidationErrors flattens the nested jsonschema error tree.
func convertValidationErrors(err *jsonschema.ValidationError) []ValidationError {
	var errs []ValidationError

	if err.ErrorKind != nil {
		errs = append(errs, ValidationError{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    extractErrorType(err),
			Message: err.Error(),
		})
	}
	for _, cause := range err.Causes {
		errs = append(errs, convertValidationErrors(cause)...)
	}

	return errs
}

// formatInstanceLocation renders an instance location as a JSON pointer.
func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

// extractErrorType buckets a validation error into a coarse category.
func extractErrorType(err *jsonschema.ValidationError) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "required"):
		return "required"
	case strings.Contains(msg, "additionalproperties") || strings.Contains(msg, "additional propert"):
		return "additionalProperties"
	case strings.Contains(msg, "enum"):
		return "enum"
	case strings.Contains(msg, "minimum") || strings.Contains(msg, "maximum"):
		return "range"
	case strings.Contains(msg, "pattern"):
		return "pattern"
	case strings.Contains(msg, "type"):
		return "type"
	default:
		return "validation"
	}
}
