// Package transform applies the optional user-supplied manifest and
// template transformations before artifacts become visible to consumers.
//
// Transforms return tagged results instead of ad-hoc values: a hook either
// keeps the current value or replaces it, and a manifest hook may replace
// via a raw JSON string that the pipeline parses. Results that cannot be
// applied (unparseable JSON) are ignored and the previous value retained;
// only an error returned by the hook itself propagates.
package transform

import (
	"context"

	"github.com/ssrkit/ssrkit/internal/artifacts"
	"github.com/ssrkit/ssrkit/internal/logging"
)

// Result is the outcome of a template transform: keep the current value or
// replace it with a new string.
type Result struct {
	replace bool
	value   string
}

// Keep leaves the current template unchanged.
func Keep() Result {
	return Result{}
}

// Replace substitutes the template with the given string.
func Replace(value string) Result {
	return Result{replace: true, value: value}
}

// Replaced reports whether the result carries a replacement value.
func (r Result) Replaced() (string, bool) {
	return r.value, r.replace
}

// ManifestResult is the outcome of a manifest transform. A replacement may
// be supplied as a Manifest value or as its raw JSON representation.
type ManifestResult struct {
	replace  bool
	manifest artifacts.Manifest
	raw      string
	isRaw    bool
}

// KeepManifest leaves the current manifest unchanged.
func KeepManifest() ManifestResult {
	return ManifestResult{}
}

// ReplaceManifest substitutes the manifest with the given value.
func ReplaceManifest(m artifacts.Manifest) ManifestResult {
	return ManifestResult{replace: true, manifest: m}
}

// ReplaceManifestJSON substitutes the manifest with the parsed form of the
// given JSON document. Unparseable documents are ignored by the pipeline.
func ReplaceManifestJSON(data string) ManifestResult {
	return ManifestResult{replace: true, raw: data, isRaw: true}
}

// TemplateFunc is a user-supplied template transformation. It may run many
// times with different templates (once per development request), so it must
// not keep cross-invocation state.
type TemplateFunc func(ctx context.Context, template string) (Result, error)

// ManifestFunc is a user-supplied manifest transformation.
type ManifestFunc func(ctx context.Context, manifest artifacts.Manifest) (ManifestResult, error)

// Pipeline applies the configured transforms. Both slots are optional; a
// nil hook is a no-op.
type Pipeline struct {
	manifestFn ManifestFunc
	templateFn TemplateFunc
	logger     logging.Logger
}

// NewPipeline creates a pipeline with the given hooks. Either may be nil.
func NewPipeline(manifestFn ManifestFunc, templateFn TemplateFunc, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		manifestFn: manifestFn,
		templateFn: templateFn,
		logger:     logger.WithComponent("transform"),
	}
}

// ApplyManifest runs the manifest transform over m and returns the
// effective manifest. Keep results and unparseable JSON replacements leave
// m unchanged.
func (p *Pipeline) ApplyManifest(ctx context.Context, m artifacts.Manifest) (artifacts.Manifest, error) {
	if p.manifestFn == nil {
		return m, nil
	}

	result, err := p.manifestFn(ctx, m)
	if err != nil {
		return m, err
	}
	if !result.replace {
		return m, nil
	}

	if result.isRaw {
		parsed, err := artifacts.ParseManifest([]byte(result.raw))
		if err != nil {
			// An unparseable replacement is not a failure, the
			// previous manifest stays in effect.
			p.logger.Debug(ctx, "ignoring unparseable manifest replacement", "error", err.Error())
			return m, nil
		}
		return parsed, nil
	}

	return result.manifest, nil
}

// ApplyTemplate runs the template transform over t and returns the
// effective template.
func (p *Pipeline) ApplyTemplate(ctx context.Context, t string) (string, error) {
	if p.templateFn == nil {
		return t, nil
	}

	result, err := p.templateFn(ctx, t)
	if err != nil {
		return t, err
	}
	if replaced, ok := result.Replaced(); ok {
		return replaced, nil
	}
	return t, nil
}
