package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ssrkit/ssrkit/internal/artifacts"
	"github.com/ssrkit/ssrkit/internal/bundler"
	kiterrors "github.com/ssrkit/ssrkit/internal/errors"
	"github.com/ssrkit/ssrkit/internal/middleware"
	"github.com/ssrkit/ssrkit/internal/transform"
)

// RenderContext is the per-request value bundle passed to a custom render
// hook. It is owned entirely by one request and discarded afterwards.
type RenderContext struct {
	Request  *http.Request
	Response http.ResponseWriter
	Module   bundler.ServerModule
	Template string
	Manifest artifacts.Manifest
}

// RenderFunc is the user-supplied render hook. Returning a replacement
// makes it the response body; Keep sends the already-transformed template.
type RenderFunc func(ctx context.Context, rc *RenderContext) (transform.Result, error)

// Interceptor returns the SSR middleware registered into the dev server's
// chain. It intercepts HTML page requests and renders them through the
// server-render module; everything else passes through to the next
// handler.
//
// Pass-through rules, in order: already-completed responses, no configured
// SSR entry, non-document paths, sub-resource fetches, and paths with no
// backing file on disk (the host's own middlewares will 404 those).
func (s *DevServer) Interceptor() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := middleware.Wrap(w)

			if rw.Written() {
				next.ServeHTTP(rw, r)
				return
			}

			// SSR is opt-in and requires an explicit entry.
			if s.cfg.SSR.Entry == "" {
				next.ServeHTTP(rw, r)
				return
			}

			// r.URL.Path carries neither query string nor fragment.
			urlPath := r.URL.Path
			if !strings.HasSuffix(urlPath, bundler.DocumentSuffix) {
				next.ServeHTTP(rw, r)
				return
			}
			if isSubResourceFetch(r) {
				next.ServeHTTP(rw, r)
				return
			}

			file, ok := s.resolveDocument(urlPath)
			if !ok {
				next.ServeHTTP(rw, r)
				return
			}

			if err := s.renderDocument(r.Context(), rw, r, file); err != nil {
				// Forward to the server's standard error handling
				// path; other requests are unaffected.
				s.handleRenderError(r.Context(), rw, r, err)
			}
		})
	}
}

// isSubResourceFetch reports whether the fetch-destination header marks
// the request as a script or other sub-resource, so asset requests are
// never intercepted even when their path ends in the document suffix.
func isSubResourceFetch(r *http.Request) bool {
	dest := r.Header.Get("Sec-Fetch-Dest")
	return dest != "" && dest != "document" && dest != "empty"
}

// resolveDocument maps a request path to a file under the project root.
func (s *DevServer) resolveDocument(urlPath string) (string, bool) {
	clean := filepath.Clean("/" + filepath.FromSlash(urlPath))
	file := filepath.Join(s.cfg.Build.Root, clean)

	absRoot, err := filepath.Abs(s.cfg.Build.Root)
	if err != nil {
		return "", false
	}
	absFile, err := filepath.Abs(file)
	if err != nil {
		return "", false
	}
	if absFile != absRoot && !strings.HasPrefix(absFile, absRoot+string(filepath.Separator)) {
		return "", false
	}

	info, err := os.Stat(absFile)
	if err != nil || info.IsDir() {
		return "", false
	}
	return absFile, true
}

// renderDocument runs steps 4-6 of the interception pipeline: build the
// per-request template, load the server module, render, and send the
// response.
func (s *DevServer) renderDocument(ctx context.Context, rw *middleware.ResponseWriter, r *http.Request, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return kiterrors.NewIOError(kiterrors.ErrCodeRenderFailed, "reading document", err).WithPath(file)
	}

	// The template held in this variable is what this request renders
	// with; the store only publishes the last-seen value for virtual
	// module reads, and interleaving requests may overwrite it.
	tpl, err := s.transformIndexHTML(ctx, r.URL.RequestURI(), string(data))
	if err != nil {
		return kiterrors.NewRenderError(kiterrors.ErrCodeRenderFailed, "host HTML transform failed", err)
	}
	s.store.SetTemplate(tpl)

	tpl, err = s.pipeline.ApplyTemplate(ctx, tpl)
	if err != nil {
		return kiterrors.NewRenderError(kiterrors.ErrCodeTransformError, "template transform failed", err)
	}
	s.store.SetTemplate(tpl)

	if s.loader == nil {
		return kiterrors.NewRenderError(kiterrors.ErrCodeModuleLoad, "no module loader configured", nil)
	}
	module, err := s.loader.Load(ctx, s.cfg.SSR.Entry)
	if err != nil {
		return kiterrors.NewRenderError(kiterrors.ErrCodeModuleLoad, "loading ssr module", err).WithPath(s.cfg.SSR.Entry)
	}

	body := tpl
	if s.render != nil {
		result, err := s.render(ctx, &RenderContext{
			Request:  r,
			Response: rw,
			Module:   module,
			Template: tpl,
			Manifest: s.store.Manifest(),
		})
		if err != nil {
			return kiterrors.NewRenderError(kiterrors.ErrCodeRenderFailed, "render hook failed", err)
		}
		if replaced, ok := result.Replaced(); ok {
			body = replaced
		}
	} else {
		rendered, ok, err := module.Render(ctx, r.URL.RequestURI(), tpl)
		if err != nil {
			return kiterrors.NewRenderError(kiterrors.ErrCodeRenderFailed, "module render failed", err)
		}
		if ok {
			body = rendered
		}
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	if _, err := rw.Write([]byte(body)); err != nil {
		s.logger.Debug(ctx, "writing response failed", "error", err.Error())
	}
	return nil
}

// handleRenderError is the server's standard per-request error path: the
// error is recorded and an overlay page is served instead of crashing the
// process.
func (s *DevServer) handleRenderError(ctx context.Context, rw *middleware.ResponseWriter, r *http.Request, err error) {
	s.logger.Error(ctx, err, "ssr render failed", "url", r.URL.Path)
	s.collector.Add(kiterrors.RenderError{
		URL:     r.URL.Path,
		Entry:   s.cfg.SSR.Entry,
		Message: err.Error(),
	})

	if rw.Written() {
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(http.StatusInternalServerError)
	_, _ = rw.Write([]byte(s.collector.Overlay()))
}
