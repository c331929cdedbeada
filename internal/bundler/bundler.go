// Package bundler defines the contracts between ssrkit's orchestration
// core and its external collaborators: the module bundler that produces
// assets and manifests, the loader that compiles and evaluates the
// server-render module, and the host HTML transform applied to templates.
//
// ssrkit never implements module resolution, asset hashing or the bundling
// algorithm itself; it only consumes the artifacts these collaborators
// produce and controls when builds are invoked.
package bundler

import (
	"context"
	"time"
)

// Conventional artifact file names emitted and harvested by the build
// orchestrator.
const (
	ManifestFileName = "ssr-manifest.json"
	DocumentSuffix   = ".html"
)

// VirtualResolver resolves a synthetic import name to generated module
// source. A false return means the name is not virtual and normal
// resolution continues.
type VirtualResolver func(name string) (source string, ok bool)

// BuildOptions describes one bundler invocation.
type BuildOptions struct {
	// Root is the project root directory.
	Root string

	// Entry is the build entry point, relative to Root.
	Entry string

	// OutDir is the output directory for emitted files.
	OutDir string

	// SSR selects a server-targeted build of the entry instead of a
	// browser bundle.
	SSR bool

	// Manifest requests emission of the asset manifest file.
	Manifest bool

	// EmptyOutDir clears OutDir before emitting.
	EmptyOutDir bool

	// CopyPublicDir copies the project's public assets directory into
	// OutDir.
	CopyPublicDir bool

	// PublicDir is the public assets directory name, relative to Root.
	PublicDir string

	// Minify enables output minification.
	Minify bool

	// Sourcemap enables source map emission.
	Sourcemap bool

	// Define maps identifiers to compile-time constant replacements.
	Define map[string]string

	// ResolveVirtual intercepts import names before normal resolution.
	ResolveVirtual VirtualResolver
}

// Overrides carries user-supplied build configuration merged on top of the
// orchestrator's defaults. Nil fields leave the default untouched.
type Overrides struct {
	Minify    *bool             `yaml:"minify" mapstructure:"minify"`
	Sourcemap *bool             `yaml:"sourcemap" mapstructure:"sourcemap"`
	OutDir    *string           `yaml:"out_dir" mapstructure:"out_dir"`
	Define    map[string]string `yaml:"define" mapstructure:"define"`
}

// Apply merges the overrides into opts. Caller-forced settings must be
// re-applied after this; override configuration wins over defaults but
// never over correctness constraints.
func (o *Overrides) Apply(opts *BuildOptions) {
	if o == nil {
		return
	}
	if o.Minify != nil {
		opts.Minify = *o.Minify
	}
	if o.Sourcemap != nil {
		opts.Sourcemap = *o.Sourcemap
	}
	if o.OutDir != nil {
		opts.OutDir = *o.OutDir
	}
	if len(o.Define) > 0 {
		if opts.Define == nil {
			opts.Define = make(map[string]string, len(o.Define))
		}
		for k, v := range o.Define {
			opts.Define[k] = v
		}
	}
}

// BuildResult reports the outcome of one bundler invocation.
type BuildResult struct {
	// OutputFiles lists the paths of all emitted files.
	OutputFiles []string

	// Duration is the wall-clock build time.
	Duration time.Duration
}

// Bundler is the external build service collaborator. A failing build
// returns an error and emits nothing the caller should rely on.
type Bundler interface {
	Build(ctx context.Context, opts BuildOptions) (*BuildResult, error)
}

// ServerModule is a loaded server-render module. Render invokes the
// module's conventional render export with the request URL and the current
// template; rendered is false when the module has no usable render export
// or its result is not a string, in which case the template is served
// unchanged.
type ServerModule interface {
	Render(ctx context.Context, url, template string) (body string, rendered bool, err error)
}

// ModuleLoader loads the server-render module on demand, compiling it if
// necessary. Implementations may cache; Invalidate drops any cached state
// so the next Load observes changed sources.
type ModuleLoader interface {
	Load(ctx context.Context, entry string) (ServerModule, error)
	Invalidate()
}

// HTMLTransformer is the host server's own per-request HTML transform,
// bound to the request URL (script injection, base rewriting). It runs
// before the user's template transform.
type HTMLTransformer func(ctx context.Context, url, html string) (string, error)
