// Package config provides configuration management for ssrkit using Viper
// for flexible configuration loading from files, environment variables, and
// command-line flags.
//
// The configuration system supports YAML files, environment variable
// overrides with the SSRKIT_ prefix, and validation. It manages the dev
// server settings, the SSR entry and virtual module names, and the
// production build behaviour (output directories, manifest writing, build
// overrides).
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ssrkit/ssrkit/internal/bundler"
)

type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	SSR    SSRConfig    `yaml:"ssr" mapstructure:"ssr"`
	Build  BuildConfig  `yaml:"build" mapstructure:"build"`
	Dev    DevConfig    `yaml:"dev" mapstructure:"dev"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	Host           string   `yaml:"host" mapstructure:"host"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Environment    string   `yaml:"environment" mapstructure:"environment"`
}

// SSRConfig describes the server-render entry and how its artifacts are
// exposed. SSR is opt-in: an empty entry leaves both the build orchestrator
// and the dev interceptor inert.
type SSRConfig struct {
	Entry         string `yaml:"entry" mapstructure:"entry"`
	ManifestID    string `yaml:"manifest_id" mapstructure:"manifest_id"`
	TemplateID    string `yaml:"template_id" mapstructure:"template_id"`
	WriteManifest *bool  `yaml:"write_manifest" mapstructure:"write_manifest"`
}

// BuildConfig controls the production build. EmptyOutDir is tri-state: nil
// means unspecified, and the orchestrator captures that preference before
// forcing the setting off for the two-phase build.
type BuildConfig struct {
	Disabled    bool               `yaml:"disabled" mapstructure:"disabled"`
	Root        string             `yaml:"root" mapstructure:"root"`
	OutDir      string             `yaml:"out_dir" mapstructure:"out_dir"`
	PublicDir   string             `yaml:"public_dir" mapstructure:"public_dir"`
	EmptyOutDir *bool              `yaml:"empty_out_dir" mapstructure:"empty_out_dir"`
	Overrides   *bundler.Overrides `yaml:"overrides" mapstructure:"overrides"`
}

type DevConfig struct {
	HotReload  bool     `yaml:"hot_reload" mapstructure:"hot_reload"`
	WatchPaths []string `yaml:"watch_paths" mapstructure:"watch_paths"`
}

// WriteManifestEnabled reports whether harvested artifacts should be
// written to disk. Defaults to true.
func (c *SSRConfig) WriteManifestEnabled() bool {
	return c.WriteManifest == nil || *c.WriteManifest
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Server defaults
	if config.Server.Port == 0 && !viper.IsSet("server.port") {
		config.Server.Port = 4173
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Environment == "" {
		config.Server.Environment = "development"
	}

	// SSR defaults: virtual module names fall back to the conventional ids
	if config.SSR.ManifestID == "" {
		config.SSR.ManifestID = "ssr:manifest"
	}
	if config.SSR.TemplateID == "" {
		config.SSR.TemplateID = "ssr:template"
	}

	// Handle booleans set via viper (workaround for viper pointer handling)
	if viper.IsSet("ssr.write_manifest") {
		v := viper.GetBool("ssr.write_manifest")
		config.SSR.WriteManifest = &v
	}
	if viper.IsSet("build.empty_out_dir") {
		v := viper.GetBool("build.empty_out_dir")
		config.Build.EmptyOutDir = &v
	}

	// Build defaults
	if config.Build.Root == "" {
		config.Build.Root = "."
	}
	if config.Build.OutDir == "" {
		config.Build.OutDir = "dist"
	}
	if config.Build.PublicDir == "" {
		config.Build.PublicDir = "public"
	}

	// Dev defaults
	if !viper.IsSet("dev.hot_reload") {
		config.Dev.HotReload = true
	} else {
		config.Dev.HotReload = viper.GetBool("dev.hot_reload")
	}
	if viper.IsSet("dev.watch_paths") && len(config.Dev.WatchPaths) == 0 {
		config.Dev.WatchPaths = viper.GetStringSlice("dev.watch_paths")
	}
	if len(config.Dev.WatchPaths) == 0 {
		config.Dev.WatchPaths = []string{"./src"}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateBuildConfig(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}
	if config.SSR.Entry != "" {
		if err := validatePath(config.SSR.Entry); err != nil {
			return fmt.Errorf("ssr config: invalid entry '%s': %w", config.SSR.Entry, err)
		}
	}
	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

// validateBuildConfig validates build configuration values
func validateBuildConfig(config *BuildConfig) error {
	if config.PublicDir != "" {
		cleanPath := filepath.Clean(config.PublicDir)
		if strings.Contains(cleanPath, "..") {
			return fmt.Errorf("public_dir contains path traversal: %s", config.PublicDir)
		}
		if filepath.IsAbs(cleanPath) {
			return fmt.Errorf("public_dir should be relative path: %s", config.PublicDir)
		}
	}

	for _, path := range []string{config.Root} {
		if path == "" {
			continue
		}
		if err := validatePath(path); err != nil {
			return fmt.Errorf("invalid root '%s': %w", path, err)
		}
	}

	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
