// Package esbuild adapts the esbuild API to ssrkit's Bundler contract:
// client and SSR bundle builds, manifest derivation from the metafile, and
// virtual module resolution through a plugin.
package esbuild

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/net/html"

	"github.com/ssrkit/ssrkit/internal/artifacts"
	"github.com/ssrkit/ssrkit/internal/bundler"
	"github.com/ssrkit/ssrkit/internal/logging"
)

const virtualNamespace = "ssrkit-virtual"

// Bundler implements bundler.Bundler on top of esbuild.
type Bundler struct {
	logger logging.Logger
}

// New creates an esbuild-backed bundler.
func New(logger logging.Logger) *Bundler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bundler{logger: logger.WithComponent("esbuild")}
}

// metafile mirrors the slice of esbuild's metafile JSON the adapter needs.
type metafile struct {
	Outputs map[string]metafileOutput `json:"outputs"`
}

type metafileOutput struct {
	EntryPoint string `json:"entryPoint,omitempty"`
	CSSBundle  string `json:"cssBundle,omitempty"`
}

// Build runs one esbuild invocation. An empty Entry selects the project's
// index.html document entry: its first local script becomes the build
// entry point and the document is emitted alongside the bundle with the
// script reference rewritten.
func (b *Bundler) Build(ctx context.Context, opts bundler.BuildOptions) (*bundler.BuildResult, error) {
	start := time.Now()

	entry := opts.Entry
	var docSource, docScript string
	if entry == "" {
		var err error
		entry, docSource, docScript, err = b.resolveDocumentEntry(opts.Root)
		if err != nil {
			return nil, err
		}
	}

	if opts.EmptyOutDir {
		if err := clearDir(opts.OutDir); err != nil {
			return nil, fmt.Errorf("clearing out dir: %w", err)
		}
	}

	buildOpts := api.BuildOptions{
		EntryPoints: []string{filepath.Join(opts.Root, entry)},
		Outdir:      opts.OutDir,
		Bundle:      true,
		Write:       true,
		Metafile:    true,
		Define:      opts.Define,
	}
	if opts.Minify {
		buildOpts.MinifyWhitespace = true
		buildOpts.MinifyIdentifiers = true
		buildOpts.MinifySyntax = true
	}
	if opts.Sourcemap {
		buildOpts.Sourcemap = api.SourceMapLinked
	}
	if opts.SSR {
		buildOpts.Platform = api.PlatformNode
		buildOpts.Format = api.FormatCommonJS
	} else {
		buildOpts.Platform = api.PlatformBrowser
		buildOpts.Format = api.FormatIIFE
	}
	if opts.ResolveVirtual != nil {
		buildOpts.Plugins = []api.Plugin{virtualPlugin(opts.ResolveVirtual)}
	}

	result := api.Build(buildOpts)
	if len(result.Errors) > 0 {
		return nil, buildError(result.Errors)
	}

	var meta metafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return nil, fmt.Errorf("parsing metafile: %w", err)
	}

	outputs := make([]string, 0, len(meta.Outputs))
	for path := range meta.Outputs {
		outputs = append(outputs, path)
	}

	if opts.Manifest {
		manifestPath, err := b.writeManifest(opts, meta)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, manifestPath)
	}

	if docSource != "" {
		docPath, err := b.emitDocument(opts, meta, docSource, docScript)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, docPath)
	}

	if opts.CopyPublicDir {
		publicDir := filepath.Join(opts.Root, opts.PublicDir)
		if _, err := os.Stat(publicDir); err == nil {
			if err := copyDir(publicDir, opts.OutDir); err != nil {
				return nil, fmt.Errorf("copying public dir: %w", err)
			}
		}
	}

	b.logger.Debug(ctx, "build finished",
		"entry", entry, "out_dir", opts.OutDir, "outputs", len(outputs))

	return &bundler.BuildResult{
		OutputFiles: outputs,
		Duration:    time.Since(start),
	}, nil
}

// resolveDocumentEntry reads the project's index.html and extracts its
// first local script source as the build entry point.
func (b *Bundler) resolveDocumentEntry(root string) (entry, docSource, docScript string, err error) {
	docPath := filepath.Join(root, "index.html")
	data, err := os.ReadFile(docPath)
	if err != nil {
		return "", "", "", fmt.Errorf("no entry configured and no index.html in %s: %w", root, err)
	}

	script := findScriptSrc(string(data))
	if script == "" {
		return "", "", "", fmt.Errorf("index.html in %s has no local script entry", root)
	}
	return strings.TrimPrefix(script, "/"), string(data), script, nil
}

// findScriptSrc returns the first script src in doc that refers to a local
// file.
func findScriptSrc(doc string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokenizer.TagName()
			if string(name) != "script" || !hasAttr {
				continue
			}
			for {
				key, val, more := tokenizer.TagAttr()
				if string(key) == "src" {
					src := string(val)
					if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") && !strings.HasPrefix(src, "//") {
						return src
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

// writeManifest derives the asset manifest from the metafile and writes it
// into the output directory.
func (b *Bundler) writeManifest(opts bundler.BuildOptions, meta metafile) (string, error) {
	manifest := artifacts.Manifest{}
	for outPath, out := range meta.Outputs {
		if out.EntryPoint == "" {
			continue
		}
		assets := []string{assetURL(opts.OutDir, outPath)}
		if out.CSSBundle != "" {
			assets = append(assets, assetURL(opts.OutDir, out.CSSBundle))
		}
		manifest[out.EntryPoint] = assets
	}

	data, err := manifest.MarshalIndent()
	if err != nil {
		return "", fmt.Errorf("serializing manifest: %w", err)
	}
	path := filepath.Join(opts.OutDir, bundler.ManifestFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}

// emitDocument writes the document entry next to the bundle with its
// script reference rewritten to the emitted entry file.
func (b *Bundler) emitDocument(opts bundler.BuildOptions, meta metafile, docSource, docScript string) (string, error) {
	doc := docSource
	for outPath, out := range meta.Outputs {
		if out.EntryPoint == "" || !strings.HasSuffix(outPath, ".js") {
			continue
		}
		doc = rewriteScriptSrc(doc, docScript, assetURL(opts.OutDir, outPath))
		if out.CSSBundle != "" && !strings.Contains(doc, assetURL(opts.OutDir, out.CSSBundle)) {
			link := `<link rel="stylesheet" href="` + assetURL(opts.OutDir, out.CSSBundle) + `">`
			if idx := strings.Index(doc, "</head>"); idx >= 0 {
				doc = doc[:idx] + link + "\n" + doc[idx:]
			}
		}
		break
	}

	path := filepath.Join(opts.OutDir, "index.html")
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("writing document: %w", err)
	}
	return path, nil
}

// rewriteScriptSrc replaces the src attribute of the first script tag whose
// src equals target. Other occurrences of the string, in body text or
// comments, are left alone.
func rewriteScriptSrc(doc, target, replacement string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(doc))
	offset := 0
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return doc
		}
		raw := string(tokenizer.Raw())
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			name, hasAttr := tokenizer.TagName()
			if string(name) == "script" && hasAttr {
				for {
					key, val, more := tokenizer.TagAttr()
					if string(key) == "src" && string(val) == target {
						tag := strings.Replace(raw, target, replacement, 1)
						return doc[:offset] + tag + doc[offset+len(raw):]
					}
					if !more {
						break
					}
				}
			}
		}
		offset += len(raw)
	}
}

// assetURL maps an emitted path to a root-relative URL.
func assetURL(outDir, path string) string {
	rel, err := filepath.Rel(outDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return "/" + filepath.ToSlash(rel)
}

// virtualPlugin intercepts the registry's synthetic import names before
// normal resolution.
func virtualPlugin(resolve bundler.VirtualResolver) api.Plugin {
	return api.Plugin{
		Name: "ssrkit-virtual",
		Setup: func(pb api.PluginBuild) {
			pb.OnResolve(api.OnResolveOptions{Filter: `.*`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if _, ok := resolve(args.Path); ok {
					return api.OnResolveResult{Path: args.Path, Namespace: virtualNamespace}, nil
				}
				return api.OnResolveResult{}, nil
			})
			pb.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: virtualNamespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				source, _ := resolve(args.Path)
				return api.OnLoadResult{Contents: &source, Loader: api.LoaderJS}, nil
			})
		},
	}
}

func buildError(messages []api.Message) error {
	texts := make([]string, 0, len(messages))
	for _, msg := range messages {
		texts = append(texts, msg.Text)
	}
	return fmt.Errorf("esbuild: %s", strings.Join(texts, "; "))
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
