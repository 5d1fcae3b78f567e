// Package cmd provides the command-line interface of the packager.
//
// Configuration is resolved from, highest priority first:
//  1. Command-line flags (--port, --root, --log-level, ...)
//  2. PACKAGER_<SECTION>_<KEY> environment variables (PACKAGER_SERVER_PORT)
//  3. The config file: --config, else PACKAGER_CONFIG_FILE, else .packager.yml
//  4. Built-in defaults
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/packager/internal/config"
	"github.com/conneroisu/packager/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "packager",
	Short: "Development bundle server for React Native style apps",
	Long: `packager serves JavaScript bundles, source maps and assets to apps under
development, rebuilding bundles when project files change.

Quick Start:
  packager serve                          Start the bundle server on :8081
  packager bundle --entry-file index.js   Write a bundle to disk
  packager config show                    Print the resolved configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .packager.yml, can also use PACKAGER_CONFIG_FILE env var)")
	AddFlagValidation(rootCmd, "config", ValidateFileExists)
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the config file and the PACKAGER_ environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PACKAGER_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".packager")
	}

	viper.SetEnvPrefix("PACKAGER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or unreadable file leaves the defaults in place.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// bindFlags binds the command's flags to config keys. Commands sharing a
// key bind when they run, so the running command's flag is the one used.
func bindFlags(v *viper.Viper, cmd *cobra.Command, bindings map[string]string) error {
	for key, name := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag --%s", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	loggerConfig := logging.DefaultConfig()
	loggerConfig.Level = level
	loggerConfig.Format = cfg.Logging.Format
	return logging.NewLogger(loggerConfig), nil
}
