package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/packager/internal/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the packager configuration",
	Long: `Inspect the configuration resolved from flags, PACKAGER_ environment
variables, the config file and defaults.

Examples:
  packager config                   # Print the resolved config as YAML
  packager config show              # Same as above
  packager config show --format json
  packager config validate          # Exit non-zero when the config is invalid`,
	RunE: showConfig,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE:  showConfig,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := config.Load(); err != nil {
			return err
		}
		source := viper.ConfigFileUsed()
		if source == "" {
			source = "defaults"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%s)\n", source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd)

	configCmd.PersistentFlags().StringVarP(&configFormat, "format", "f", "yaml", "Output format (yaml, json)")
}

func showConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return printConfig(cmd.OutOrStdout(), cfg, configFormat)
}

func printConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return err
		}
		return encoder.Close()
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}
