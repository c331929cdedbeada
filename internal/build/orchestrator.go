// Package build drives the two-phase production build: a client sub-build
// whose manifest and template are harvested into the artifact store, followed
// by the SSR bundle build with the virtual modules resolvable.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ssrkit/ssrkit/internal/artifacts"
	"github.com/ssrkit/ssrkit/internal/bundler"
	"github.com/ssrkit/ssrkit/internal/config"
	kiterrors "github.com/ssrkit/ssrkit/internal/errors"
	"github.com/ssrkit/ssrkit/internal/logging"
	"github.com/ssrkit/ssrkit/internal/transform"
)

// State tracks the orchestrator's progress through one production build.
type State int

const (
	StateIdle State = iota
	StateClientSubBuild
	StateSSRBuild
	StateDone
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClientSubBuild:
		return "client-sub-build"
	case StateSSRBuild:
		return "ssr-build"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// buildState holds the flags derived once at configuration-resolution time
// and read-only afterwards.
type buildState struct {
	ssrBuildRequested bool
	emptyOutDirPref   *bool // tri-state, captured before being forced off
	writeManifest     bool
}

// Orchestrator runs the two-phase SSR production build. The two bundler
// invocations are strictly sequential; the SSR phase depends on artifacts
// the client phase wrote to disk.
type Orchestrator struct {
	cfg      *config.Config
	bundler  bundler.Bundler
	store    *artifacts.Store
	registry *artifacts.Registry
	pipeline *transform.Pipeline
	logger   logging.Logger

	state   State
	derived buildState
}

// NewOrchestrator creates an orchestrator over the resolved configuration.
// Detection happens here: without an SSR entry, or with the build disabled,
// the orchestrator is inert for this run.
func NewOrchestrator(
	cfg *config.Config,
	b bundler.Bundler,
	store *artifacts.Store,
	registry *artifacts.Registry,
	pipeline *transform.Pipeline,
	logger logging.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Orchestrator{
		cfg:      cfg,
		bundler:  b,
		store:    store,
		registry: registry,
		pipeline: pipeline,
		logger:   logger.WithComponent("build"),
		state:    StateIdle,
		derived: buildState{
			ssrBuildRequested: cfg.SSR.Entry != "" && !cfg.Build.Disabled,
			emptyOutDirPref:   cfg.Build.EmptyOutDir,
			writeManifest:     cfg.SSR.WriteManifestEnabled(),
		},
	}
}

// Active reports whether an SSR build was requested for this run.
func (o *Orchestrator) Active() bool {
	return o.derived.ssrBuildRequested
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	return o.state
}

// Run executes the full two-phase build. A client sub-build failure aborts
// the whole build; missing manifest or template files after the sub-build
// are valid configurations and skipped silently.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.Active() {
		return nil
	}

	start := time.Now()
	ssrOpts := o.neutralizedOptions()

	if o.derived.writeManifest {
		o.clearOutDir(ctx, ssrOpts.OutDir)
	}

	// Phase one: client sub-build into the public subdirectory of the SSR
	// output, manifest emission on.
	o.state = StateClientSubBuild
	clientOpts := ssrOpts
	clientOpts.Entry = ""
	clientOpts.SSR = false
	clientOpts.Manifest = true
	clientOpts.OutDir = filepath.Join(ssrOpts.OutDir, o.cfg.Build.PublicDir)

	o.logger.Info(ctx, "starting client sub-build", "out_dir", clientOpts.OutDir)
	result, err := o.bundler.Build(ctx, clientOpts)
	if err != nil {
		o.state = StateIdle
		return kiterrors.NewBuildError(kiterrors.ErrCodeBuildFailed, "client sub-build failed", err)
	}

	if err := o.harvest(ctx, clientOpts.OutDir, ssrOpts.OutDir, result); err != nil {
		o.state = StateIdle
		return err
	}

	// Phase two: the SSR bundle itself, with the virtual modules
	// resolvable against the freshly harvested store.
	o.state = StateSSRBuild
	o.logger.Info(ctx, "starting ssr build", "entry", ssrOpts.Entry, "out_dir", ssrOpts.OutDir)
	if _, err := o.bundler.Build(ctx, ssrOpts); err != nil {
		o.state = StateIdle
		return kiterrors.NewBuildError(kiterrors.ErrCodeBuildFailed, "ssr build failed", err)
	}

	o.state = StateDone
	o.logger.Info(ctx, "build complete", "duration", time.Since(start).String())
	return nil
}

// neutralizedOptions composes the SSR build options: defaults, then user
// overrides, then the forced correctness constraints. Directory clearing
// and public-assets copying are always off for the SSR phase regardless of
// overrides; the orchestrator manages the output directory itself and the
// client sub-build owns the public assets.
func (o *Orchestrator) neutralizedOptions() bundler.BuildOptions {
	opts := bundler.BuildOptions{
		Root:           o.cfg.Build.Root,
		Entry:          o.cfg.SSR.Entry,
		OutDir:         o.cfg.Build.OutDir,
		PublicDir:      o.cfg.Build.PublicDir,
		SSR:            true,
		Minify:         true,
		ResolveVirtual: o.registry.Resolve,
	}

	o.cfg.Build.Overrides.Apply(&opts)

	opts.EmptyOutDir = false
	opts.CopyPublicDir = false

	if !filepath.IsAbs(opts.OutDir) {
		opts.OutDir = filepath.Join(opts.Root, opts.OutDir)
	}
	return opts
}

// clearOutDir removes the previous contents of the output directory before
// the build emits anything. Directories outside the project root are left
// untouched with a warning unless clearing was explicitly requested; an
// explicit opt-out always wins. The .git entry is always preserved.
func (o *Orchestrator) clearOutDir(ctx context.Context, outDir string) {
	pref := o.derived.emptyOutDirPref
	if pref != nil && !*pref {
		return
	}

	if _, err := os.Stat(outDir); os.IsNotExist(err) {
		return
	}

	if !o.insideRoot(outDir) && (pref == nil || !*pref) {
		o.logger.Warn(ctx, nil, "out_dir is outside the project root and will not be cleared",
			"out_dir", outDir)
		return
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		o.logger.Warn(ctx, err, "failed to read out_dir for clearing", "out_dir", outDir)
		return
	}
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(outDir, entry.Name())); err != nil {
			o.logger.Warn(ctx, err, "failed to clear out_dir entry", "entry", entry.Name())
		}
	}
}

// insideRoot reports whether dir is within the project root.
func (o *Orchestrator) insideRoot(dir string) bool {
	absRoot, err := filepath.Abs(o.cfg.Build.Root)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// harvest relocates the emitted manifest and template from the client
// sub-build output into the artifact store, runs the transforms, and writes
// the results next to the SSR output under their original names.
func (o *Orchestrator) harvest(ctx context.Context, clientOut, ssrOut string, result *bundler.BuildResult) error {
	if err := o.harvestManifest(ctx, clientOut, ssrOut); err != nil {
		return err
	}
	return o.harvestTemplate(ctx, clientOut, ssrOut, result)
}

func (o *Orchestrator) harvestManifest(ctx context.Context, clientOut, ssrOut string) error {
	manifestPath := filepath.Join(clientOut, bundler.ManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		// A project without a manifest is a valid configuration.
		o.logger.Debug(ctx, "no manifest emitted by client sub-build")
		return nil
	}
	if err != nil {
		return kiterrors.NewIOError(kiterrors.ErrCodeWriteArtifact, "reading emitted manifest", err)
	}

	// The manifest is relocated, not duplicated: the scratch copy must not
	// linger in the client output tree.
	if err := os.Remove(manifestPath); err != nil {
		return kiterrors.NewIOError(kiterrors.ErrCodeWriteArtifact, "removing emitted manifest", err)
	}

	manifest, err := artifacts.ParseManifest(data)
	if err != nil {
		return kiterrors.NewBuildError(kiterrors.ErrCodeBuildFailed, "emitted manifest is not valid JSON", err)
	}

	manifest, err = o.pipeline.ApplyManifest(ctx, manifest)
	if err != nil {
		return kiterrors.NewBuildError(kiterrors.ErrCodeTransformError, "manifest transform failed", err)
	}
	o.store.SetManifest(manifest)

	if !o.derived.writeManifest {
		return nil
	}

	out, err := manifest.MarshalIndent()
	if err != nil {
		return kiterrors.NewIOError(kiterrors.ErrCodeWriteArtifact, "serializing manifest", err)
	}
	target := filepath.Join(ssrOut, bundler.ManifestFileName)
	if err := writeFile(target, out); err != nil {
		return kiterrors.NewIOError(kiterrors.ErrCodeWriteArtifact, "writing manifest", err)
	}
	o.logger.Info(ctx, "wrote manifest", "path", target, "entries", len(manifest))
	return nil
}

func (o *Orchestrator) harvestTemplate(ctx context.Context, clientOut, ssrOut string, result *bundler.BuildResult) error {
	templatePath := o.findDocument(clientOut, result)
	if templatePath == "" {
		// A project without an HTML document entry is a valid
		// configuration; nothing is captured into the template store.
		o.logger.Debug(ctx, "no document entry emitted by client sub-build")
		return nil
	}

	data, err := os.ReadFile(templatePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return kiterrors.NewIOError(kiterrors.ErrCodeWriteArtifact, "reading emitted template", err)
	}
	if err := os.Remove(templatePath); err != nil {
		return kiterrors.NewIOError(kiterrors.ErrCodeWriteArtifact, "removing emitted template", err)
	}

	tpl := string(data)
	o.validateTemplate(ctx, templatePath, tpl)

	tpl, err = o.pipeline.ApplyTemplate(ctx, tpl)
	if err != nil {
		return kiterrors.NewBuildError(kiterrors.ErrCodeTransformError, "template transform failed", err)
	}
	o.store.SetTemplate(tpl)

	if !o.derived.writeManifest {
		return nil
	}

	target := filepath.Join(ssrOut, filepath.Base(templatePath))
	if err := writeFile(target, []byte(tpl)); err != nil {
		return kiterrors.NewIOError(kiterrors.ErrCodeWriteArtifact, "writing template", err)
	}
	o.logger.Info(ctx, "wrote template", "path", target)
	return nil
}

// findDocument locates the emitted document entry in the client output.
// Only entries ending in the document suffix are treated as a template;
// other entry shapes are not captured.
func (o *Orchestrator) findDocument(clientOut string, result *bundler.BuildResult) string {
	if result != nil {
		for _, f := range result.OutputFiles {
			if strings.HasSuffix(f, bundler.DocumentSuffix) {
				return f
			}
		}
	}

	// Fall back to the conventional name for bundlers that do not report
	// their output files.
	fallback := filepath.Join(clientOut, "index"+bundler.DocumentSuffix)
	if _, err := os.Stat(fallback); err == nil {
		return fallback
	}
	return ""
}

// validateTemplate checks that the harvested template actually contains
// markup. Suffix matching alone would accept any file renamed to .html, so
// a markup-free document is worth a warning, but the template is still
// captured: downstream render hooks may handle non-standard documents
// deliberately.
func (o *Orchestrator) validateTemplate(ctx context.Context, path, tpl string) {
	tokenizer := html.NewTokenizer(strings.NewReader(tpl))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			o.logger.Warn(ctx, nil, "harvested template contains no HTML markup", "path", path)
			return
		case html.StartTagToken, html.SelfClosingTagToken, html.DoctypeToken:
			return
		}
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
