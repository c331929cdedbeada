// Package errors defines the structured error types used across ssrkit and
// the development-time render error collector.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeBuild    ErrorType = "build"
	ErrorTypeHarvest  ErrorType = "harvest"
	ErrorTypeRender   ErrorType = "render"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeInternal ErrorType = "internal"
)

// KitError is a structured error type with category, code and cause.
type KitError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Path    string
}

// Error implements the error interface.
func (e *KitError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *KitError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *KitError) Is(target error) bool {
	var t *KitError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithPath adds file or request path context.
func (e *KitError) WithPath(path string) *KitError {
	e.Path = path
	return e
}

// Common error codes.
const (
	ErrCodeBuildFailed    = "ERR_BUILD_FAILED"
	ErrCodeConfigInvalid  = "ERR_CONFIG_INVALID"
	ErrCodeModuleLoad     = "ERR_MODULE_LOAD"
	ErrCodeRenderFailed   = "ERR_RENDER_FAILED"
	ErrCodeWriteArtifact  = "ERR_WRITE_ARTIFACT"
	ErrCodeOutDirOutside  = "ERR_OUTDIR_OUTSIDE_ROOT"
	ErrCodeTransformError = "ERR_TRANSFORM"
)

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *KitError {
	return &KitError{Type: ErrorTypeBuild, Code: code, Message: message, Cause: cause}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *KitError {
	return &KitError{Type: ErrorTypeConfig, Code: code, Message: message}
}

// NewRenderError creates a development render error.
func NewRenderError(code, message string, cause error) *KitError {
	return &KitError{Type: ErrorTypeRender, Code: code, Message: message, Cause: cause}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *KitError {
	return &KitError{Type: ErrorTypeIO, Code: code, Message: message, Cause: cause}
}

// IsRenderError checks if an error is render-related.
func IsRenderError(err error) bool {
	var ke *KitError
	if errors.As(err, &ke) {
		return ke.Type == ErrorTypeRender
	}
	return false
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	var ke *KitError
	if errors.As(err, &ke) {
		return ke.Type == ErrorTypeBuild
	}
	return false
}
