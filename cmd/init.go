package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ssrkit/ssrkit/internal/artifacts"
	"github.com/ssrkit/ssrkit/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a default .ssrkit.yml configuration",
	Long: `Write a default .ssrkit.yml into the given directory (or the current
directory). Existing configuration files are never overwritten.

Examples:
  ssrkit init                               # Write .ssrkit.yml here
  ssrkit init my-app                        # Write my-app/.ssrkit.yml
  ssrkit init --entry src/entry-server.js   # Set the SSR entry`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var initEntry string

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initEntry, "entry", "src/entry-server.js", "SSR entry module")
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir := "."
	if len(args) == 1 {
		projectDir = args[0]
		if err := os.MkdirAll(projectDir, 0o755); err != nil {
			return fmt.Errorf("failed to create project directory: %w", err)
		}
	}

	configPath := filepath.Join(projectDir, ".ssrkit.yml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	cfg := config.Config{
		Server: config.ServerConfig{
			Port:        4173,
			Host:        "localhost",
			Environment: "development",
		},
		SSR: config.SSRConfig{
			Entry:      initEntry,
			ManifestID: "ssr:manifest",
			TemplateID: "ssr:template",
		},
		Build: config.BuildConfig{
			Root:      ".",
			OutDir:    "dist",
			PublicDir: "public",
		},
		Dev: config.DevConfig{
			HotReload:  true,
			WatchPaths: []string{"./src"},
		},
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Wrote", configPath)

	// Type declarations for the virtual modules, so editors resolve the
	// ssr:manifest and ssr:template imports in consumer projects.
	declPath := filepath.Join(projectDir, "ssrkit-env.d.ts")
	if _, err := os.Stat(declPath); os.IsNotExist(err) {
		registry := artifacts.NewRegistry(artifacts.NewStore(), cfg.SSR.ManifestID, cfg.SSR.TemplateID)
		if err := os.WriteFile(declPath, []byte(registry.Declarations()), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", declPath, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote", declPath)
	}
	return nil
}
