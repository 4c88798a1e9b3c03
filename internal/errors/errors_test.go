package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTramlineErrorFormatting(t *testing.T) {
	err := NewCompileError("style.scss", "sass failed", fmt.Errorf("exit status 65")).
		WithLocation("style.scss", 3, 5)

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_COMPILE]")
	assert.Contains(t, msg, "style.scss:3:5")
	assert.Contains(t, msg, "sass failed")
	assert.Contains(t, msg, "exit status 65")
}

func TestTramlineErrorIsAndAs(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := fmt.Errorf("generation 3: %w", NewBindgenError("app", "wasm-bindgen failed", cause))

	assert.True(t, errors.Is(err, NewBindgenError("", "", nil)))
	assert.False(t, errors.Is(err, NewBuildError("", "", nil)))
	assert.True(t, errors.Is(err, cause))

	var te *TramlineError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrorTypePipeline, te.Type)
	assert.Equal(t, PipelineErrorBindgen, te.Kind)
}

func TestTypePredicates(t *testing.T) {
	assert.True(t, IsType(NewParseError("bad", nil), ErrorTypeParse))
	assert.True(t, IsType(NewValidationError("bad"), ErrorTypeValidation))
	assert.True(t, IsType(NewAssemblyError("bad", nil), ErrorTypeAssembly))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrorTypeParse))

	assert.True(t, IsPipelineError(NewIOError("a", "b", nil), PipelineErrorIO))
	assert.False(t, IsPipelineError(NewIOError("a", "b", nil), PipelineErrorBuild))

	assert.True(t, IsCanceled(fmt.Errorf("wrapped: %w", context.Canceled)))
}

func TestWithOutputRecordsFirstPosition(t *testing.T) {
	output := "   Compiling app v0.1.0\n" +
		"error[E0425]: cannot find value `x` in this scope\n" +
		"  --> src/main.rs:3:5\n" +
		"   |\n" +
		"error: could not compile `app`\n"

	err := NewBuildError("Cargo.toml", "cargo build failed", nil).WithOutput(output)

	assert.Equal(t, output, err.Output)
	assert.Equal(t, "src/main.rs", err.FilePath)
	assert.Equal(t, 3, err.Line)
	assert.Equal(t, 5, err.Column)
}

func TestDiagnosticsFromPlainError(t *testing.T) {
	diags := Diagnostics(fmt.Errorf("disk full"))
	require.Len(t, diags, 1)
	assert.Equal(t, "disk full", diags[0].Message)

	assert.Nil(t, Diagnostics(nil))
}

func TestDiagnosticsFromErrorWithoutOutput(t *testing.T) {
	err := NewValidationError("stylesheet directive requires href").WithSource("<link> #2")

	diags := Diagnostics(err)
	require.Len(t, diags, 1)
	assert.Equal(t, "<link> #2", diags[0].Source)
	assert.Contains(t, diags[0].Message, "requires href")
}

type recordingLogger struct {
	warns  []string
	errors []string
}

func (l *recordingLogger) Error(_ context.Context, _ error, msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(_ context.Context, _ error, msg string, _ ...interface{}) {
	l.warns = append(l.warns, msg)
}

func TestErrorHandlerRoutesByType(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger)
	ctx := context.Background()

	handler.Handle(ctx, nil)
	handler.Handle(ctx, NewCompileError("a.scss", "failed", nil).WithOutput("Error: boom"))
	handler.Handle(ctx, NewParseError("empty document", nil))
	handler.Handle(ctx, NewServerError("bind failed", nil))
	handler.Handle(ctx, fmt.Errorf("plain"))

	assert.Equal(t, []string{"Pipeline failed", "Tool output", "Manifest rejected"}, logger.warns)
	assert.Equal(t, []string{"Error occurred", "Unhandled error occurred"}, logger.errors)
}
