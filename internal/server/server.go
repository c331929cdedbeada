// Package server implements the development server: static file serving,
// live reload over WebSocket, and the SSR request interceptor that renders
// HTML page requests through the server-render module without a prior
// build step.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ssrkit/ssrkit/internal/artifacts"
	"github.com/ssrkit/ssrkit/internal/bundler"
	"github.com/ssrkit/ssrkit/internal/config"
	kiterrors "github.com/ssrkit/ssrkit/internal/errors"
	"github.com/ssrkit/ssrkit/internal/logging"
	"github.com/ssrkit/ssrkit/internal/middleware"
	"github.com/ssrkit/ssrkit/internal/transform"
	"github.com/ssrkit/ssrkit/internal/watcher"
)

// reloadScript is injected into served documents when hot reload is
// enabled. It reconnects with a small backoff so browsers survive server
// restarts.
const reloadScript = `<script>
(function () {
  function connect() {
    var ws = new WebSocket("ws://" + location.host + "/__ssrkit");
    ws.onmessage = function (ev) {
      var msg = JSON.parse(ev.data);
      if (msg.type === "full_reload") location.reload();
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})();
</script>`

// Options bundles the collaborators a DevServer needs. Store, Registry and
// Pipeline are shared with the build orchestrator; Loader and Render are
// the per-request render collaborators.
type Options struct {
	Config   *config.Config
	Store    *artifacts.Store
	Registry *artifacts.Registry
	Pipeline *transform.Pipeline
	Loader   bundler.ModuleLoader
	Render   RenderFunc
	Logger   logging.Logger
}

// DevServer serves the project during development with SSR interception
// and live reload.
type DevServer struct {
	cfg      *config.Config
	store    *artifacts.Store
	registry *artifacts.Registry
	pipeline *transform.Pipeline
	loader   bundler.ModuleLoader
	render   RenderFunc
	logger   logging.Logger

	collector *kiterrors.Collector
	watcher   *watcher.FileWatcher

	httpServer  *http.Server
	serverMutex sync.RWMutex

	clients      map[*websocket.Conn]chan []byte
	clientsMutex sync.RWMutex

	shutdownOnce sync.Once
}

// New creates a new development server.
func New(opts Options) (*DevServer, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	store := opts.Store
	if store == nil {
		store = artifacts.NewStore()
	}
	registry := opts.Registry
	if registry == nil {
		registry = artifacts.NewRegistry(store, opts.Config.SSR.ManifestID, opts.Config.SSR.TemplateID)
	}
	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline = transform.NewPipeline(nil, nil, logger)
	}

	var fw *watcher.FileWatcher
	if opts.Config.Dev.HotReload {
		var err error
		fw, err = watcher.NewFileWatcher(300*time.Millisecond, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
	}

	return &DevServer{
		cfg:       opts.Config,
		store:     store,
		registry:  registry,
		pipeline:  pipeline,
		loader:    opts.Loader,
		render:    opts.Render,
		logger:    logger.WithComponent("server"),
		collector: kiterrors.NewCollector(),
		watcher:   fw,
		clients:   make(map[*websocket.Conn]chan []byte),
	}, nil
}

// Start starts the development server and blocks until it stops.
func (s *DevServer) Start(ctx context.Context) error {
	if s.watcher != nil {
		s.setupFileWatcher(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/__ssrkit", s.handleWebSocket)
	mux.HandleFunc("/@id/", s.handleVirtualModule)
	mux.Handle("/", http.FileServer(http.Dir(s.cfg.Build.Root)))

	chain := middleware.NewChain()
	chain.Add(middleware.PriorityLogging, middleware.Logging(s.logger))
	chain.Add(middleware.PriorityCORS, middleware.CORS(s.cfg.Server.AllowedOrigins, s.cfg.Server.Environment))
	// The interceptor runs after the host middlewares but wraps the static
	// file handler, so page requests are seen before the file server 404s
	// or serves them raw.
	chain.Add(middleware.PriorityInterceptor, s.Interceptor())

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: chain.Apply(mux),
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "dev server listening", "addr", addr, "ssr_entry", s.cfg.SSR.Entry)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *DevServer) setupFileWatcher(ctx context.Context) {
	s.watcher.AddFilter(watcher.SourceFilter)
	s.watcher.AddFilter(watcher.NoNodeModulesFilter)
	s.watcher.AddFilter(watcher.NoGitFilter)

	s.watcher.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, event := range events {
			s.logger.Debug(ctx, "file changed", "path", event.Path, "type", event.Type.String())
		}
		if s.loader != nil {
			s.loader.Invalidate()
		}
		s.broadcastReload()
		return nil
	})

	for _, path := range s.cfg.Dev.WatchPaths {
		if err := s.watcher.AddRecursive(path); err != nil {
			s.logger.Warn(ctx, err, "failed to watch path", "path", path)
		}
	}

	s.watcher.Start(ctx)
}

// handleVirtualModule serves the two virtual modules over HTTP during
// development, so client code can import them without a build.
func (s *DevServer) handleVirtualModule(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/@id/")
	source, ok := s.registry.Resolve(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write([]byte(source))
}

// transformIndexHTML is the host server's own HTML transform, bound to the
// request URL: it injects the live reload client into served documents.
func (s *DevServer) transformIndexHTML(_ context.Context, _ string, doc string) (string, error) {
	if s.cfg == nil || !s.cfg.Dev.HotReload {
		return doc, nil
	}
	if idx := strings.Index(doc, "</head>"); idx >= 0 {
		return doc[:idx] + reloadScript + "\n" + doc[idx:], nil
	}
	return doc + reloadScript, nil
}

// Collector exposes the render error collector, mainly for tests and
// status endpoints.
func (s *DevServer) Collector() *kiterrors.Collector {
	return s.collector
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *DevServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "shutting down dev server")

		if s.watcher != nil {
			_ = s.watcher.Stop()
		}

		s.clientsMutex.Lock()
		for conn, send := range s.clients {
			close(send)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}
		s.clients = make(map[*websocket.Conn]chan []byte)
		s.clientsMutex.Unlock()

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}
