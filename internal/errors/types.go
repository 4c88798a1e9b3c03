package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the top-level categories of the build error taxonomy.
type ErrorType string

const (
	ErrorTypeParse      ErrorType = "parse"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypePipeline   ErrorType = "pipeline"
	ErrorTypeAssembly   ErrorType = "assembly"
	ErrorTypeWatch      ErrorType = "watch"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// PipelineErrorKind narrows a pipeline error to the step that produced it.
type PipelineErrorKind string

const (
	PipelineErrorBuild   PipelineErrorKind = "build"
	PipelineErrorBindgen PipelineErrorKind = "bindgen"
	PipelineErrorCompile PipelineErrorKind = "compile"
	PipelineErrorIO      PipelineErrorKind = "io"
)

// Common error codes.
const (
	ErrCodeParse         = "ERR_PARSE"
	ErrCodeValidation    = "ERR_VALIDATION"
	ErrCodeBuild         = "ERR_BUILD"
	ErrCodeBindgen       = "ERR_BINDGEN"
	ErrCodeCompile       = "ERR_COMPILE"
	ErrCodeIO            = "ERR_IO"
	ErrCodeAssembly      = "ERR_ASSEMBLY"
	ErrCodeWatch         = "ERR_WATCH"
	ErrCodeServer        = "ERR_SERVER"
	ErrCodeConfigInvalid = "ERR_CONFIG_INVALID"
	ErrCodeInternalError = "ERR_INTERNAL"
)

// TramlineError is a structured error type with context.
type TramlineError struct {
	Type    ErrorType
	Kind    PipelineErrorKind
	Code    string
	Message string
	Cause   error
	// Source names the directive or path the error belongs to.
	Source   string
	FilePath string
	Line     int
	Column   int
	// Output holds the external tool's diagnostic stream, verbatim.
	Output string
}

// Error implements the error interface.
func (e *TramlineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Source != "" {
		parts = append(parts, e.Source+":")
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *TramlineError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *TramlineError) Is(target error) bool {
	var t *TramlineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithLocation adds file location information.
func (e *TramlineError) WithLocation(filePath string, line, column int) *TramlineError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithSource records the directive or path the error belongs to.
func (e *TramlineError) WithSource(source string) *TramlineError {
	e.Source = source

	return e
}

// WithOutput attaches the external tool's diagnostic output and, when the
// output carries a position, the first reported location.
func (e *TramlineError) WithOutput(output string) *TramlineError {
	e.Output = output
	if e.FilePath == "" {
		for _, d := range ParseDiagnostics(e.Source, output) {
			if d.File != "" {
				e.WithLocation(d.File, d.Line, d.Column)
				break
			}
		}
	}

	return e
}

// Error creation functions

// NewParseError creates a markup parse error.
func NewParseError(message string, cause error) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypeParse,
		Code:    ErrCodeParse,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a directive or configuration validation error.
func NewValidationError(message string) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// NewBuildError wraps a failed application compile.
func NewBuildError(source, message string, cause error) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypePipeline,
		Kind:    PipelineErrorBuild,
		Code:    ErrCodeBuild,
		Source:  source,
		Message: message,
		Cause:   cause,
	}
}

// NewBindgenError wraps a failed binding generator run.
func NewBindgenError(source, message string, cause error) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypePipeline,
		Kind:    PipelineErrorBindgen,
		Code:    ErrCodeBindgen,
		Source:  source,
		Message: message,
		Cause:   cause,
	}
}

// NewCompileError wraps a failed asset compile (stylesheets).
func NewCompileError(source, message string, cause error) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypePipeline,
		Kind:    PipelineErrorCompile,
		Code:    ErrCodeCompile,
		Source:  source,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error raised inside a pipeline.
func NewIOError(source, message string, cause error) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypePipeline,
		Kind:    PipelineErrorIO,
		Code:    ErrCodeIO,
		Source:  source,
		Message: message,
		Cause:   cause,
	}
}

// NewAssemblyError creates an output assembly error.
func NewAssemblyError(message string, cause error) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypeAssembly,
		Code:    ErrCodeAssembly,
		Message: message,
		Cause:   cause,
	}
}

// NewWatchError creates a filesystem watch error.
func NewWatchError(message string, cause error) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypeWatch,
		Code:    ErrCodeWatch,
		Message: message,
		Cause:   cause,
	}
}

// NewServerError creates a dev server error.
func NewServerError(message string, cause error) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypeServer,
		Code:    ErrCodeServer,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypeConfig,
		Code:    ErrCodeConfigInvalid,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *TramlineError {
	return &TramlineError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// IsType reports whether err is a TramlineError of the given type.
func IsType(err error, t ErrorType) bool {
	var te *TramlineError
	if errors.As(err, &te) {
		return te.Type == t
	}

	return false
}

// IsPipelineError reports whether err is a PipelineError of the given kind.
func IsPipelineError(err error, kind PipelineErrorKind) bool {
	var te *TramlineError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePipeline && te.Kind == kind
	}

	return false
}

// As is errors.As from the standard library, so callers need one import.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsCanceled reports whether err stems from a cancelled generation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ErrorHandler provides centralized error reporting.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error with fields matching its category.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var te *TramlineError
	if !errors.As(err, &te) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch te.Type {
	case ErrorTypePipeline:
		h.logger.Warn(ctx, err, "Pipeline failed",
			"kind", te.Kind,
			"code", te.Code,
			"source", te.Source,
			"file", te.FilePath,
			"line", te.Line)
		if te.Output != "" {
			h.logger.Warn(ctx, nil, "Tool output", "source", te.Source, "output", te.Output)
		}
	case ErrorTypeParse, ErrorTypeValidation:
		h.logger.Warn(ctx, err, "Manifest rejected",
			"type", te.Type,
			"code", te.Code,
			"source", te.Source)
	case ErrorTypeWatch:
		h.logger.Warn(ctx, err, "Watch error", "code", te.Code)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", te.Type,
			"code", te.Code)
	}
}
