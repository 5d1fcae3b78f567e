package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/packager/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the packager version, commit, build time, Go version and platform.

Examples:
  packager version               # Show version
  packager version --detailed    # Show detailed version info
  packager version --format json # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, _ []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")
	return writeVersion(cmd.OutOrStdout(), versionFormat, versionShort, detailed)
}

func writeVersion(w io.Writer, format string, short, detailed bool) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			*version.BuildInfo
			IsRelease bool `json:"is_release"`
		}{version.GetBuildInfo(), version.IsRelease()})
	case "text":
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}

	switch {
	case short:
		fmt.Fprintln(w, version.GetShortVersion())
	case detailed:
		fmt.Fprintln(w, version.GetDetailedVersion())
		if version.IsRelease() {
			fmt.Fprintln(w, "Build type: release")
		} else {
			fmt.Fprintln(w, "Build type: development")
		}
	default:
		info := version.GetBuildInfo()
		line := "packager " + version.GetShortVersion()
		if info.Dirty {
			line += " (dirty)"
		}
		fmt.Fprintln(w, line)
		fmt.Fprintf(w, "Go: %s\nPlatform: %s\n", info.GoVersion, info.Platform)
	}
	return nil
}
