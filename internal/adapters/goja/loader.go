// Package goja loads server-render modules into an embedded JavaScript
// runtime. The entry is bundled to CommonJS with esbuild and evaluated in
// a goja VM; the module's render export becomes the ServerModule.
package goja

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"

	"github.com/ssrkit/ssrkit/internal/bundler"
	kiterrors "github.com/ssrkit/ssrkit/internal/errors"
	"github.com/ssrkit/ssrkit/internal/logging"
)

// Loader implements bundler.ModuleLoader with an in-process goja runtime.
// Loaded modules are cached by entry path until Invalidate is called.
type Loader struct {
	root    string
	resolve bundler.VirtualResolver
	logger  logging.Logger

	mutex sync.Mutex
	cache map[string]*Module
}

// NewLoader creates a loader rooted at the project directory. resolve may
// be nil when the project does not import the virtual modules.
func NewLoader(root string, resolve bundler.VirtualResolver, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loader{
		root:    root,
		resolve: resolve,
		logger:  logger.WithComponent("loader"),
		cache:   make(map[string]*Module),
	}
}

// Load bundles and evaluates the entry, or returns the cached module.
func (l *Loader) Load(ctx context.Context, entry string) (bundler.ServerModule, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if module, ok := l.cache[entry]; ok {
		return module, nil
	}

	code, err := l.bundle(entry)
	if err != nil {
		return nil, kiterrors.NewBuildError(kiterrors.ErrCodeModuleLoad, "bundling ssr entry", err).WithPath(entry)
	}

	module, err := evaluate(entry, code)
	if err != nil {
		return nil, kiterrors.NewRenderError(kiterrors.ErrCodeModuleLoad, "evaluating ssr entry", err).WithPath(entry)
	}

	l.logger.Debug(ctx, "ssr module loaded", "entry", entry)
	l.cache[entry] = module
	return module, nil
}

// Invalidate drops every cached module so the next Load re-bundles from
// the current sources.
func (l *Loader) Invalidate() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.cache = make(map[string]*Module)
}

// bundle compiles the entry and its imports into a single CommonJS script
// the VM can evaluate.
func (l *Loader) bundle(entry string) (string, error) {
	opts := api.BuildOptions{
		EntryPoints: []string{filepath.Join(l.root, entry)},
		Bundle:      true,
		Write:       false,
		Platform:    api.PlatformNode,
		Format:      api.FormatCommonJS,
		Target:      api.ES2017,
	}
	if l.resolve != nil {
		opts.Plugins = []api.Plugin{virtualPlugin(l.resolve)}
	}

	result := api.Build(opts)
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("esbuild: %s", result.Errors[0].Text)
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("no output for entry %s", entry)
	}
	return string(result.OutputFiles[0].Contents), nil
}

// virtualPlugin mirrors the build-time virtual module plugin so the SSR
// entry can import the manifest and template during development.
func virtualPlugin(resolve bundler.VirtualResolver) api.Plugin {
	return api.Plugin{
		Name: "ssrkit-virtual",
		Setup: func(pb api.PluginBuild) {
			pb.OnResolve(api.OnResolveOptions{Filter: `.*`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if _, ok := resolve(args.Path); ok {
					return api.OnResolveResult{Path: args.Path, Namespace: "ssrkit-virtual"}, nil
				}
				return api.OnResolveResult{}, nil
			})
			pb.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "ssrkit-virtual"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				source, _ := resolve(args.Path)
				return api.OnLoadResult{Contents: &source, Loader: api.LoaderJS}, nil
			})
		},
	}
}

// Module is one evaluated server-render module. A goja runtime is not
// safe for concurrent use, so calls into it are serialized.
type Module struct {
	vm     *goja.Runtime
	render goja.Callable
	mutex  sync.Mutex
}

// evaluate runs the bundled script and picks up its render export.
func evaluate(name, code string) (*Module, error) {
	vm := goja.New()

	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := vm.Set("module", module); err != nil {
		return nil, err
	}
	if err := vm.Set("exports", exports); err != nil {
		return nil, err
	}

	if _, err := vm.RunScript(name, code); err != nil {
		return nil, err
	}

	return &Module{vm: vm, render: findRender(vm, module.Get("exports"))}, nil
}

// findRender looks for a render function on the exports object, or on a
// default export for entries written as ES modules.
func findRender(vm *goja.Runtime, exportsVal goja.Value) goja.Callable {
	if exportsVal == nil || goja.IsUndefined(exportsVal) || goja.IsNull(exportsVal) {
		return nil
	}
	exports := exportsVal.ToObject(vm)

	if fn, ok := goja.AssertFunction(exports.Get("render")); ok {
		return fn
	}
	def := exports.Get("default")
	if def == nil || goja.IsUndefined(def) || goja.IsNull(def) {
		return nil
	}
	if fn, ok := goja.AssertFunction(def); ok {
		return fn
	}
	if fn, ok := goja.AssertFunction(def.ToObject(vm).Get("render")); ok {
		return fn
	}
	return nil
}

// Render calls the module's render export with the request URL and the
// transformed template. A module without a render export reports not
// rendered, so the server falls back to the template itself.
func (m *Module) Render(ctx context.Context, url, template string) (string, bool, error) {
	if m.render == nil {
		return "", false, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	value, err := m.render(goja.Undefined(), m.vm.ToValue(url), m.vm.ToValue(template))
	if err != nil {
		return "", false, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", false, nil
	}
	if str, ok := value.Export().(string); ok {
		return str, true, nil
	}
	// A non-string result is treated as "did not render" so the caller
	// falls back to the template.
	return "", false, nil
}
