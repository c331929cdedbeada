// Package cmd provides the command-line interface for ssrkit.
//
// Configuration is layered: command-line flags take priority, then
// environment variables with the SSRKIT_ prefix (SSRKIT_SERVER_PORT,
// SSRKIT_SSR_ENTRY, ...), then the .ssrkit.yml config file in the current
// directory. A custom config file can be selected with --config or the
// SSRKIT_CONFIG_FILE environment variable.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ssrkit/ssrkit/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ssrkit",
	Short: "Server-side rendering build and dev tool",
	Long: `ssrkit builds server-rendered web projects and serves them during
development.

A production build runs in two phases: a client sub-build whose asset
manifest and HTML template are harvested, then the SSR bundle build with
the harvested artifacts importable as virtual modules. The dev server
intercepts HTML page requests and renders them through the same SSR
entry, with hot reload over WebSocket.

Quick Start:
  ssrkit init                     Write a default .ssrkit.yml
  ssrkit serve                    Start the development server
  ssrkit build                    Run the production build`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept snake_case flag spellings for parity with the config file keys.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .ssrkit.yml, can also use SSRKIT_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig wires viper's config sources: the --config flag wins, then the
// SSRKIT_CONFIG_FILE environment variable, then .ssrkit.yml in the current
// directory. A missing config file is not an error; env vars and flags
// still apply.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SSRKIT_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ssrkit")
	}

	viper.SetEnvPrefix("SSRKIT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the persistent flags.
func newLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(viper.GetString("log-level")),
		Format: viper.GetString("log-format"),
		Output: os.Stderr,
	})
}
