package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKitError_Error(t *testing.T) {
	cause := errors.New("disk full")
	err := NewIOError(ErrCodeWriteArtifact, "writing manifest", cause).WithPath("dist/ssr-manifest.json")

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_WRITE_ARTIFACT]")
	assert.Contains(t, msg, "dist/ssr-manifest.json")
	assert.Contains(t, msg, "writing manifest")
	assert.Contains(t, msg, "disk full")
}

func TestKitError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewBuildError(ErrCodeBuildFailed, "client sub-build failed", cause)

	assert.ErrorIs(t, err, cause)
}

func TestKitError_IsMatchesTypeAndCode(t *testing.T) {
	err := NewRenderError(ErrCodeRenderFailed, "render exploded", nil)
	wrapped := fmt.Errorf("request failed: %w", err)

	assert.ErrorIs(t, wrapped, &KitError{Type: ErrorTypeRender, Code: ErrCodeRenderFailed})
	assert.NotErrorIs(t, wrapped, &KitError{Type: ErrorTypeBuild, Code: ErrCodeBuildFailed})
}

func TestErrorTypePredicates(t *testing.T) {
	renderErr := fmt.Errorf("wrap: %w", NewRenderError(ErrCodeModuleLoad, "load failed", nil))
	buildErr := NewBuildError(ErrCodeBuildFailed, "build failed", nil)

	assert.True(t, IsRenderError(renderErr))
	assert.False(t, IsBuildError(renderErr))
	assert.True(t, IsBuildError(buildErr))
	assert.False(t, IsRenderError(errors.New("plain")))
}
