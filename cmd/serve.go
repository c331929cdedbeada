package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	gojaadapter "github.com/ssrkit/ssrkit/internal/adapters/goja"
	"github.com/ssrkit/ssrkit/internal/artifacts"
	"github.com/ssrkit/ssrkit/internal/config"
	"github.com/ssrkit/ssrkit/internal/server"
	"github.com/ssrkit/ssrkit/internal/transform"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the development server with SSR interception",
	Long: `Start the development server. HTML page requests are intercepted and
rendered through the configured SSR entry; other requests are served
from the project directory. File changes invalidate the loaded render
module and trigger a browser reload over WebSocket.

Examples:
  ssrkit serve                       # Serve with .ssrkit.yml settings
  ssrkit serve --port 3000           # Serve on a specific port
  ssrkit serve --entry src/entry-server.js`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 4173, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().String("entry", "", "SSR entry module")
	serveCmd.Flags().Bool("no-reload", false, "Disable hot reload")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("ssr.entry", serveCmd.Flags().Lookup("entry"))
}

func runServe(cmd *cobra.Command, args []string) error {
	if noReload, _ := cmd.Flags().GetBool("no-reload"); noReload {
		viper.Set("dev.hot_reload", false)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger()

	store := artifacts.NewStore()
	registry := artifacts.NewRegistry(store, cfg.SSR.ManifestID, cfg.SSR.TemplateID)
	pipeline := transform.NewPipeline(nil, nil, logger)
	loader := gojaadapter.NewLoader(cfg.Build.Root, registry.Resolve, logger)

	srv, err := server.New(server.Options{
		Config:   cfg,
		Store:    store,
		Registry: registry,
		Pipeline: pipeline,
		Loader:   loader,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info(ctx, "received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, err, "shutdown error")
		}
		cancel()
	}()

	return srv.Start(ctx)
}
