// Package cmd provides the tramline command-line interface.
//
// Configuration System:
//
//	Settings are resolved with the following precedence:
//	1. Command-line flags (--dist, --port, etc.) - highest priority
//	2. Environment variables (TRAMLINE_SERVE_PORT, TRAMLINE_BUILD_DIST, ...)
//	3. .env and .env.local in the working directory
//	4. The configuration file (--config, TRAMLINE_CONFIG_FILE, or the
//	   first of Tramline.yaml, Tramline.yml, .tramline.yaml, .tramline.yml)
//	5. Defaults - lowest priority
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/tramline/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tramline",
	Short: "Build, bundle and serve web applications described by an HTML template",
	Long: `Tramline builds a web application from an HTML template. Elements marked
with data-trunk name the assets to process: a compiled wasm application,
stylesheets, scripts, icons and copied files. Every asset is content-hashed
and the rewritten document and its artifacts are published atomically.

Quick Start:
  tramline build                   Build index.html into dist/
  tramline serve                   Build, watch and serve with live reload
  tramline watch                   Rebuild on changes without serving
  tramline clean                   Remove dist/ and stale staging directories`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is Tramline.yaml or .tramline.yml, can also use TRAMLINE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig loads .env files and the configuration file into the global
// viper instance.
//
// Configuration file priority (highest to lowest):
//  1. --config flag
//  2. TRAMLINE_CONFIG_FILE environment variable
//  3. Tramline.yaml, Tramline.yml, .tramline.yaml or .tramline.yml in the
//     working directory
//
// A missing default file is not an error; an explicitly named file that
// cannot be read is.
func initConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadEnvFiles(".")
	if err != nil {
		return fmt.Errorf("failed to load environment file: %w", err)
	}
	for _, path := range loaded {
		fmt.Fprintln(cmd.ErrOrStderr(), "Loaded environment variables from", path)
	}

	config.BindEnv(viper.GetViper())

	file := cfgFile
	if file == "" {
		file = os.Getenv("TRAMLINE_CONFIG_FILE")
	}
	explicit := file != ""
	if !explicit {
		file = config.FindConfigFile(".")
	}
	if file == "" {
		return nil
	}

	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		if explicit {
			return fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: ignoring unreadable config file %s: %v\n", file, err)
		return nil
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", viper.ConfigFileUsed())
	return nil
}
