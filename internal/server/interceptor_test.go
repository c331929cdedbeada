package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssrkit/ssrkit/internal/bundler"
	"github.com/ssrkit/ssrkit/internal/config"
	"github.com/ssrkit/ssrkit/internal/transform"
)

// fakeModule renders by substituting the app mount point in the template.
type fakeModule struct {
	rendered bool
	err      error
	body     func(url, template string) string
}

func (m *fakeModule) Render(ctx context.Context, url, template string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	if !m.rendered {
		return "", false, nil
	}
	return m.body(url, template), true, nil
}

type fakeLoader struct {
	module      bundler.ServerModule
	err         error
	loads       int
	invalidated int
}

func (l *fakeLoader) Load(ctx context.Context, entry string) (bundler.ServerModule, error) {
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	return l.module, nil
}

func (l *fakeLoader) Invalidate() { l.invalidated++ }

const testDocument = `<!DOCTYPE html>
<html>
<head><title>app</title></head>
<body><div id="app"></div></body>
</html>`

func testServer(t *testing.T, loader bundler.ModuleLoader) (*DevServer, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte(testDocument), 0o644))

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "localhost", Port: 4173, Environment: "development"},
		SSR: config.SSRConfig{
			Entry:      "src/entry-server.js",
			ManifestID: "ssr:manifest",
			TemplateID: "ssr:template",
		},
		Build: config.BuildConfig{Root: root, OutDir: "dist", PublicDir: "public"},
		Dev:   config.DevConfig{HotReload: false},
	}

	srv, err := New(Options{Config: cfg, Loader: loader})
	require.NoError(t, err)
	return srv, root
}

// intercept runs one request through the interceptor with a recording
// fallthrough handler.
func intercept(srv *DevServer, req *http.Request) (*httptest.ResponseRecorder, *bool) {
	passedThrough := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		passedThrough = true
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	srv.Interceptor()(next).ServeHTTP(rec, req)
	return rec, &passedThrough
}

func TestInterceptor_RendersDocumentRequest(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{
		rendered: true,
		body: func(url, template string) string {
			return strings.Replace(template, `<div id="app"></div>`, `<div id="app">rendered:`+url+`</div>`, 1)
		},
	}}
	srv, _ := testServer(t, loader)

	rec, passed := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	assert.False(t, *passed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `<div id="app">rendered:/index.html</div>`)
	// The rest of the document survives around the rendered mount point.
	assert.Contains(t, rec.Body.String(), "<title>app</title>")
}

func TestInterceptor_PassThroughWithoutEntry(t *testing.T) {
	srv, _ := testServer(t, &fakeLoader{})
	srv.cfg.SSR.Entry = ""

	_, passed := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.True(t, *passed)
}

func TestInterceptor_PassThroughNonDocumentPath(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{}}
	srv, root := testServer(t, loader)
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("js"), 0o644))

	_, passed := intercept(srv, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.True(t, *passed)
	assert.Zero(t, loader.loads)
}

func TestInterceptor_PassThroughSubResourceFetch(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{}}
	srv, _ := testServer(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Header.Set("Sec-Fetch-Dest", "script")

	_, passed := intercept(srv, req)
	assert.True(t, *passed)
	assert.Zero(t, loader.loads)
}

func TestInterceptor_DocumentFetchDestsIntercepted(t *testing.T) {
	for _, dest := range []string{"", "document", "empty"} {
		loader := &fakeLoader{module: &fakeModule{}}
		srv, _ := testServer(t, loader)

		req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
		if dest != "" {
			req.Header.Set("Sec-Fetch-Dest", dest)
		}

		_, passed := intercept(srv, req)
		assert.False(t, *passed, "dest %q should be intercepted", dest)
	}
}

func TestInterceptor_PassThroughMissingFile(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{}}
	srv, _ := testServer(t, loader)

	hookCalls := 0
	srv.pipeline = transform.NewPipeline(nil, func(ctx context.Context, template string) (transform.Result, error) {
		hookCalls++
		return transform.Keep(), nil
	}, nil)

	rec, passed := intercept(srv, httptest.NewRequest(http.MethodGet, "/missing.html", nil))
	assert.True(t, *passed)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, hookCalls)
	assert.Zero(t, loader.loads)
}

func TestInterceptor_PathTraversalNotServed(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{}}
	srv, _ := testServer(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/../outside.html", nil)
	req.URL.Path = "/../outside.html"

	_, passed := intercept(srv, req)
	assert.True(t, *passed)
}

func TestInterceptor_QueryStringIgnoredForMatching(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{rendered: true, body: func(url, template string) string {
		return "url=" + url
	}}}
	srv, _ := testServer(t, loader)

	rec, passed := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html?tab=settings", nil))

	assert.False(t, *passed)
	// The full request URI, query included, reaches the render module.
	assert.Equal(t, "url=/index.html?tab=settings", rec.Body.String())
}

func TestInterceptor_ModuleNotRenderingServesTemplate(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{rendered: false}}
	srv, _ := testServer(t, loader)

	rec, passed := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	assert.False(t, *passed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testDocument, rec.Body.String())
}

func TestInterceptor_RenderErrorServesOverlay(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{err: errors.New("hydration mismatch")}}
	srv, _ := testServer(t, loader)

	rec, passed := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	assert.False(t, *passed)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "hydration mismatch")

	require.True(t, srv.Collector().HasErrors())
	recorded := srv.Collector().Errors()
	require.Len(t, recorded, 1)
	assert.Equal(t, "/index.html", recorded[0].URL)
	assert.Equal(t, "src/entry-server.js", recorded[0].Entry)
}

func TestInterceptor_LoaderErrorServesOverlay(t *testing.T) {
	loader := &fakeLoader{err: errors.New("syntax error in entry")}
	srv, _ := testServer(t, loader)

	rec, _ := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "syntax error in entry")
}

func TestInterceptor_ErrorDoesNotPoisonNextRequest(t *testing.T) {
	module := &fakeModule{err: errors.New("transient")}
	loader := &fakeLoader{module: module}
	srv, _ := testServer(t, loader)

	rec, _ := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	module.err = nil
	module.rendered = true
	module.body = func(url, template string) string { return "recovered" }

	rec, _ = intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recovered", rec.Body.String())
}

func TestInterceptor_TemplateTransformRunsPerRequest(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{}}
	srv, _ := testServer(t, loader)

	calls := 0
	srv.pipeline = transform.NewPipeline(nil, func(ctx context.Context, template string) (transform.Result, error) {
		calls++
		return transform.Replace(template + "<!-- t -->"), nil
	}, nil)

	for i := 0; i < 3; i++ {
		rec, _ := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))
		assert.Contains(t, rec.Body.String(), "<!-- t -->")
	}
	assert.Equal(t, 3, calls)
}

func TestInterceptor_RenderHookReplacesBody(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{}}
	srv, _ := testServer(t, loader)
	srv.render = func(ctx context.Context, rc *RenderContext) (transform.Result, error) {
		return transform.Replace("<html>from hook</html>"), nil
	}

	rec, _ := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, "<html>from hook</html>", rec.Body.String())
}

func TestInterceptor_RenderHookKeepServesTemplate(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{}}
	srv, _ := testServer(t, loader)
	srv.render = func(ctx context.Context, rc *RenderContext) (transform.Result, error) {
		assert.NotNil(t, rc.Request)
		assert.NotNil(t, rc.Module)
		assert.Equal(t, testDocument, rc.Template)
		return transform.Keep(), nil
	}

	rec, _ := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, testDocument, rec.Body.String())
}

func TestInterceptor_ReloadScriptInjectedWhenHotReload(t *testing.T) {
	loader := &fakeLoader{module: &fakeModule{}}
	srv, _ := testServer(t, loader)
	srv.cfg.Dev.HotReload = true

	rec, _ := intercept(srv, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "/__ssrkit")
	// Injection lands before the closing head tag.
	assert.Less(t, strings.Index(body, "/__ssrkit"), strings.Index(body, "</head>"))
}

func TestHandleVirtualModule(t *testing.T) {
	srv, _ := testServer(t, &fakeLoader{})
	srv.store.SetTemplate("<p>stored</p>")

	rec := httptest.NewRecorder()
	srv.handleVirtualModule(rec, httptest.NewRequest(http.MethodGet, "/@id/ssr:template", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "stored")

	rec = httptest.NewRecorder()
	srv.handleVirtualModule(rec, httptest.NewRequest(http.MethodGet, "/@id/not-virtual", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
