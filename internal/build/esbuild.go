package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/packager/internal/bundle"
	"github.com/conneroisu/packager/internal/errors"
	"github.com/conneroisu/packager/internal/logging"
)

// ESBuilderConfig configures the esbuild-backed builder.
type ESBuilderConfig struct {
	// Roots are the project roots entry files are looked up in, in order.
	Roots []string
	// Target is the JS language target, e.g. "es2017".
	Target string
	// ResolveExtensions are tried in order; platform variants are tried first.
	ResolveExtensions []string
}

// ESBuilder builds bundles with esbuild. Each build is a full, stateless
// esbuild run, so InvalidateFile only needs to be recorded.
type ESBuilder struct {
	config        ESBuilderConfig
	target        api.Target
	logger        logging.Logger
	invalidations atomic.Int64
}

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// NewESBuilder creates a builder over the given roots.
func NewESBuilder(config ESBuilderConfig, logger logging.Logger) (*ESBuilder, error) {
	if len(config.Roots) == 0 {
		return nil, fmt.Errorf("esbuild builder needs at least one root")
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if config.Target == "" {
		config.Target = "es2017"
	}
	target, ok := targets[strings.ToLower(config.Target)]
	if !ok {
		return nil, fmt.Errorf("unsupported target %q", config.Target)
	}
	if len(config.ResolveExtensions) == 0 {
		config.ResolveExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".json"}
	}

	roots := make([]string, 0, len(config.Roots))
	for _, root := range config.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", root, err)
		}
		roots = append(roots, abs)
	}
	config.Roots = roots

	return &ESBuilder{
		config: config,
		target: target,
		logger: logger.WithComponent("esbuild"),
	}, nil
}

// Build runs esbuild for opts.
func (b *ESBuilder) Build(ctx context.Context, opts bundle.Options) (bundle.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, root, err := b.resolveEntry(opts)
	if err != nil {
		return nil, errors.NewBuildFailure(opts.EntryFile, err)
	}

	buildOpts := b.buildOptions(opts, entry, root)
	result := api.Build(buildOpts)

	if len(result.Warnings) > 0 {
		b.logger.Debug(ctx, "esbuild reported warnings",
			"entry_file", opts.EntryFile,
			"warnings", len(result.Warnings),
		)
	}
	if len(result.Errors) > 0 {
		formatted := api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
		return nil, errors.NewBuildFailure(opts.EntryFile, fmt.Errorf("%s", strings.TrimSpace(strings.Join(formatted, "")))).
			WithContext("errors", len(result.Errors))
	}

	var source, sourceMap string
	for _, file := range result.OutputFiles {
		if strings.HasSuffix(file.Path, ".map") {
			sourceMap = string(file.Contents)
		} else {
			source = string(file.Contents)
		}
	}

	if opts.SourceMapURL != "" && !opts.InlineSourceMap {
		source = strings.TrimRight(source, "\n") + "\n//# sourceMappingURL=" + opts.SourceMapURL + "\n"
	}

	return bundle.NewArtifact(source, sourceMap), nil
}

// InvalidateFile records that path changed.
func (b *ESBuilder) InvalidateFile(path string) {
	n := b.invalidations.Add(1)
	b.logger.Debug(context.Background(), "File invalidated", "path", path, "invalidations", n)
}

// Invalidations returns how many file invalidations were recorded.
func (b *ESBuilder) Invalidations() int64 {
	return b.invalidations.Load()
}

func (b *ESBuilder) buildOptions(opts bundle.Options, entry, root string) api.BuildOptions {
	sourcemap := api.SourceMapExternal
	if opts.InlineSourceMap {
		sourcemap = api.SourceMapInlineAndExternal
	}

	nodeEnv := `"development"`
	if !opts.Dev {
		nodeEnv = `"production"`
	}

	buildOpts := api.BuildOptions{
		Bundle:            !opts.EntryModuleOnly,
		Write:             false,
		AbsWorkingDir:     root,
		Outfile:           filepath.Join(root, strings.TrimSuffix(opts.EntryFile, filepath.Ext(opts.EntryFile))+".bundle.js"),
		Sourcemap:         sourcemap,
		SourcesContent:    api.SourcesContentInclude,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		Target:            b.target,
		Format:            api.FormatIIFE,
		Platform:          api.PlatformBrowser,
		ResolveExtensions: b.resolveExtensions(opts.Platform),
		LogLevel:          api.LogLevelSilent,
		Define: map[string]string{
			"__DEV__":              strconv.FormatBool(opts.Dev),
			"process.env.NODE_ENV": nodeEnv,
		},
	}

	prelude := b.prelude(opts, root)
	switch {
	case !opts.RunModule:
		// Expose the entry's exports instead of relying on its side effects.
		buildOpts.EntryPoints = []string{entry}
		buildOpts.GlobalName = "__packagerEntry"
	case len(prelude) > 0 && !opts.EntryModuleOnly:
		var contents strings.Builder
		for _, module := range prelude {
			fmt.Fprintf(&contents, "import %s;\n", strconv.Quote(filepath.ToSlash(module)))
		}
		fmt.Fprintf(&contents, "import %s;\n", strconv.Quote(filepath.ToSlash(entry)))
		buildOpts.Stdin = &api.StdinOptions{
			Contents:   contents.String(),
			ResolveDir: root,
			Sourcefile: "packager-entry.js",
			Loader:     api.LoaderJS,
		}
	default:
		buildOpts.EntryPoints = []string{entry}
	}

	return buildOpts
}

// resolveExtensions puts platform-specific variants ahead of the plain ones.
func (b *ESBuilder) resolveExtensions(platform string) []string {
	exts := make([]string, 0, len(b.config.ResolveExtensions)*3)
	if platform != "" {
		for _, ext := range b.config.ResolveExtensions {
			exts = append(exts, "."+platform+ext)
		}
		if platform != "web" {
			for _, ext := range b.config.ResolveExtensions {
				exts = append(exts, ".native"+ext)
			}
		}
	}
	return append(exts, b.config.ResolveExtensions...)
}

// resolveEntry finds the entry file in the roots, preferring a
// platform-specific sibling (index.ios.js over index.js).
func (b *ESBuilder) resolveEntry(opts bundle.Options) (string, string, error) {
	ext := filepath.Ext(opts.EntryFile)
	base := strings.TrimSuffix(opts.EntryFile, ext)

	candidates := []string{opts.EntryFile}
	if opts.Platform != "" && !strings.HasSuffix(base, "."+opts.Platform) {
		candidates = append([]string{base + "." + opts.Platform + ext}, candidates...)
	}

	for _, root := range b.config.Roots {
		for _, candidate := range candidates {
			path := filepath.Join(root, filepath.FromSlash(candidate))
			if !withinRoot(root, path) {
				continue
			}
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, root, nil
			}
		}
	}

	return "", "", fmt.Errorf("entry file %s not found in %v: %w", opts.EntryFile, b.config.Roots, os.ErrNotExist)
}

// prelude resolves the run-before-main modules that exist in root. Modules
// that cannot be found are skipped.
func (b *ESBuilder) prelude(opts bundle.Options, root string) []string {
	var modules []string
	for _, name := range opts.RunBeforeMainModule {
		candidates := []string{name}
		if opts.Platform != "" {
			candidates = append(candidates, name+"."+opts.Platform+".js")
		}
		candidates = append(candidates, name+".js")

		found := false
		for _, candidate := range candidates {
			path := filepath.Join(root, filepath.FromSlash(candidate))
			if !withinRoot(root, path) {
				continue
			}
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				modules = append(modules, path)
				found = true
				break
			}
		}
		if !found {
			b.logger.Debug(context.Background(), "Skipping missing run-before-main module", "module", name)
		}
	}
	return modules
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
