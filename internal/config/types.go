// Package config loads process settings and parses, validates, and decodes
// job files (JSON/YAML) into runnable job specs.
package config

import (
	"fmt"
	"strings"
)

// Parse error categories.
const (
	ErrorTypeIO     = "io"
	ErrorTypeSyntax = "syntax"
	ErrorTypeFormat = "format"
)

// ParseResult contains the outcome of parsing a job file.
type ParseResult struct {
	// Data is the parsed document as a generic map.
	Data map[string]interface{}
	// Errors holds any parse errors encountered.
	Errors []ParseError
	// FilePath is the source file (empty when parsed from a string).
	FilePath string
	// Format is the detected format (json or yaml).
	Format string
}

// IsValid reports whether parsing succeeded.
func (r *ParseResult) IsValid() bool {
	return len(r.Errors) == 0
}

// ParseError is a parse failure with best-effort location information.
type ParseError struct {
	Path    string
	Line    int // 1-based, 0 if unknown
	Column  int // 1-based, 0 if unknown
	Offset  int64
	Message string
	Type    string
}

// Error implements the error interface.
func (e ParseError) Error() string {
	var sb strings.Builder
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&sb, ", column %d", e.Column)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// ValidationResult contains the outcome of schema validation.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError is a schema violation at a JSON-pointer-like path.
type ValidationError struct {
	// Path locates the offending value, e.g. "/aggregations/0/metric".
	Path string
	// Type categorizes the violation (required, type, enum, range, ...).
	Type string
	// Message is the human-readable description.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Result combines parsing and validation of one job file.
type Result struct {
	Data             map[string]interface{}
	ParseErrors      []ParseError
	ValidationErrors []ValidationError
	FilePath         string
	Format           string
}

// IsValid reports whether the file parsed and validated cleanly.
func (r *Result) IsValid() bool {
	return len(r.ParseErrors) == 0 && len(r.ValidationErrors) == 0
}

// AllErrors flattens parse and validation errors into one slice.
func (r *Result) AllErrors() []error {
	errs := make([]error, 0, len(r.ParseErrors)+len(r.ValidationErrors))
	for _, e := range r.ParseErrors {
		errs = append(errs, e)
	}
	for _, e := range r.ValidationErrors {
		errs = append(errs, e)
	}
	return errs
}
