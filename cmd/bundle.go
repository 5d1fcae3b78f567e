package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/packager/internal/build"
	"github.com/conneroisu/packager/internal/bundle"
	"github.com/conneroisu/packager/internal/config"
	"github.com/conneroisu/packager/internal/logging"
)

// bundleFlags are the options of a one-off bundle build.
type bundleFlags struct {
	EntryFile       string
	Platform        string
	Dev             bool
	Minify          bool
	MinifySet       bool
	BundleOutput    string
	SourceMapOutput string
	AssetPlugins    []string
}

var bundleOpts bundleFlags

// outputFs is where bundle writes its files.
var outputFs = afero.NewOsFs()

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Build a bundle and write it to disk",
	Long: `Build a bundle once, the same way the server would for a request, and
write it and optionally its source map to disk.

Examples:
  packager bundle --entry-file index.js --bundle-output out/main.jsbundle
  packager bundle --entry-file index.js --platform ios --dev=false \
    --bundle-output out/main.jsbundle --sourcemap-output out/main.map`,
	RunE: runBundle,
}

func init() {
	rootCmd.AddCommand(bundleCmd)

	flags := bundleCmd.Flags()
	flags.StringVar(&bundleOpts.EntryFile, "entry-file", "", "Entry module, relative to a project root")
	flags.StringVar(&bundleOpts.Platform, "platform", "", "Target platform, one of project.platforms")
	flags.BoolVar(&bundleOpts.Dev, "dev", true, "Build a development bundle")
	flags.BoolVar(&bundleOpts.Minify, "minify", false, "Minify the bundle (defaults to the opposite of --dev)")
	flags.StringVar(&bundleOpts.BundleOutput, "bundle-output", "", "File to write the bundle to")
	flags.StringVar(&bundleOpts.SourceMapOutput, "sourcemap-output", "", "File to write the source map to")
	flags.StringSliceVar(&bundleOpts.AssetPlugins, "asset-plugin", nil, "Asset plugin module (repeatable)")
	flags.StringSlice("root", []string{"."}, "Project root (repeatable)")
	_ = bundleCmd.MarkFlagRequired("entry-file")
	_ = bundleCmd.MarkFlagRequired("bundle-output")
}

func runBundle(cmd *cobra.Command, _ []string) error {
	if err := bindFlags(viper.GetViper(), cmd, map[string]string{"project.roots": "root"}); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	flags := bundleOpts
	flags.MinifySet = cmd.Flags().Changed("minify")

	if err := writeBundle(cmd.Context(), cfg, flags, outputFs, logger); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", flags.BundleOutput)
	if flags.SourceMapOutput != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", flags.SourceMapOutput)
	}
	return nil
}

// bundleOptions maps the command line onto build options.
func (f bundleFlags) bundleOptions(cfg *config.Config) bundle.Options {
	opts := bundle.NewOptions(f.EntryFile)
	opts.Platform = f.Platform
	opts.Dev = f.Dev
	opts.Minify = !f.Dev
	if f.MinifySet {
		opts.Minify = f.Minify
	}
	opts.AppleTV = f.Platform == bundle.PlatformAppleTV
	if f.AssetPlugins != nil {
		opts.AssetPlugins = append([]string{}, f.AssetPlugins...)
	}
	if cfg.Bundler.RunBeforeMainModule != nil {
		opts.RunBeforeMainModule = append([]string{}, cfg.Bundler.RunBeforeMainModule...)
	}
	if f.SourceMapOutput != "" {
		opts.SourceMapURL = filepath.Base(f.SourceMapOutput)
	}
	return opts
}

// writeBundle builds once and writes the outputs to fs.
func writeBundle(ctx context.Context, cfg *config.Config, flags bundleFlags, fs afero.Fs, logger logging.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ValidatePlatform(flags.Platform, cfg.Project.Platforms); err != nil {
		return err
	}

	builder, err := build.NewESBuilder(build.ESBuilderConfig{
		Roots:             cfg.Project.Roots,
		Target:            cfg.Bundler.Target,
		ResolveExtensions: cfg.Bundler.ResolveExtensions,
	}, logger)
	if err != nil {
		return err
	}

	opts := flags.bundleOptions(cfg)
	perf := logging.StartOperation(logger, "bundle", "entry_file", opts.EntryFile, "platform", opts.Platform)
	b, err := builder.Build(ctx, opts)
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	perf.End(ctx)

	if err := writeFile(fs, flags.BundleOutput, b.Source()); err != nil {
		return err
	}
	if flags.SourceMapOutput != "" {
		if err := writeFile(fs, flags.SourceMapOutput, b.SourceMap()); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(fs afero.Fs, path, content string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
