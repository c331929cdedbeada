package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	esbuildadapter "github.com/ssrkit/ssrkit/internal/adapters/esbuild"
	"github.com/ssrkit/ssrkit/internal/artifacts"
	"github.com/ssrkit/ssrkit/internal/build"
	"github.com/ssrkit/ssrkit/internal/bundler"
	"github.com/ssrkit/ssrkit/internal/config"
	"github.com/ssrkit/ssrkit/internal/transform"
	"github.com/ssrkit/ssrkit/pkg/htmlmin"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the production build",
	Long: `Run the two-phase production build: a client sub-build whose asset
manifest and HTML template are harvested, followed by the SSR bundle
build with the harvested artifacts importable as virtual modules.

Without an ssr.entry in the configuration this is a plain client build.

Examples:
  ssrkit build                    # Build with .ssrkit.yml settings
  ssrkit build --out-dir dist     # Build to a specific output directory
  ssrkit build --minify-html      # Minify the harvested template`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringP("out-dir", "o", "", "Output directory")
	buildCmd.Flags().String("entry", "", "SSR entry module")
	buildCmd.Flags().Bool("minify-html", false, "Minify the harvested HTML template")

	_ = viper.BindPFlag("build.out_dir", buildCmd.Flags().Lookup("out-dir"))
	_ = viper.BindPFlag("ssr.entry", buildCmd.Flags().Lookup("entry"))
	_ = viper.BindPFlag("build.minify_html", buildCmd.Flags().Lookup("minify-html"))
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger()

	store := artifacts.NewStore()
	registry := artifacts.NewRegistry(store, cfg.SSR.ManifestID, cfg.SSR.TemplateID)

	var templateFn transform.TemplateFunc
	if viper.GetBool("build.minify_html") {
		templateFn = htmlmin.New(logger).TemplateTransform()
	}
	pipeline := transform.NewPipeline(nil, templateFn, logger)

	orchestrator := build.NewOrchestrator(
		cfg,
		esbuildadapter.New(logger),
		store,
		registry,
		pipeline,
		logger,
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if !orchestrator.Active() {
		return runClientOnlyBuild(ctx, cfg, esbuildadapter.New(logger))
	}

	if err := orchestrator.Run(ctx); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return nil
}

// runClientOnlyBuild handles the no-SSR case: one plain client build into
// the configured output directory.
func runClientOnlyBuild(ctx context.Context, cfg *config.Config, b bundler.Bundler) error {
	opts := bundler.BuildOptions{
		Root:          cfg.Build.Root,
		OutDir:        cfg.Build.OutDir,
		PublicDir:     cfg.Build.PublicDir,
		EmptyOutDir:   cfg.Build.EmptyOutDir == nil || *cfg.Build.EmptyOutDir,
		CopyPublicDir: true,
		Minify:        true,
	}
	cfg.Build.Overrides.Apply(&opts)
	if !filepath.IsAbs(opts.OutDir) {
		opts.OutDir = filepath.Join(opts.Root, opts.OutDir)
	}

	if _, err := b.Build(ctx, opts); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return nil
}
