package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/packager/internal/bundle"
	perrors "github.com/conneroisu/packager/internal/errors"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, contents := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
	return root
}

func newTestESBuilder(t *testing.T, root string) *ESBuilder {
	t.Helper()
	builder, err := NewESBuilder(ESBuilderConfig{Roots: []string{root}}, nil)
	require.NoError(t, err)
	return builder
}

func TestNewESBuilderValidation(t *testing.T) {
	_, err := NewESBuilder(ESBuilderConfig{}, nil)
	assert.Error(t, err)

	_, err = NewESBuilder(ESBuilderConfig{Roots: []string{"."}, Target: "es1999"}, nil)
	assert.Error(t, err)

	builder, err := NewESBuilder(ESBuilderConfig{Roots: []string{"."}, Target: "ES2020"}, nil)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(builder.config.Roots[0]))
}

func TestESBuilderBuildsEntry(t *testing.T) {
	root := writeProject(t, map[string]string{
		"index.js":  "import { greet } from './greet';\nconsole.log(greet('packager'));\n",
		"greet.js":  "export function greet(name) { return 'hello ' + name; }\n",
		"README.md": "not javascript",
	})
	builder := newTestESBuilder(t, root)

	opts := bundle.NewOptions("index.js")
	opts.SourceMapURL = "/index.map?platform=ios"

	b, err := builder.Build(context.Background(), opts)
	require.NoError(t, err)

	assert.Contains(t, b.Source(), "hello ")
	assert.Contains(t, b.Source(), "//# sourceMappingURL=/index.map?platform=ios")
	assert.Contains(t, b.SourceMap(), `"version": 3`)
	assert.Equal(t, bundle.ContentETag(b.Source()), b.ETag())
}

func TestESBuilderPrefersPlatformVariant(t *testing.T) {
	root := writeProject(t, map[string]string{
		"index.js":     "console.log('generic');\n",
		"index.ios.js": "console.log('apple');\n",
	})
	builder := newTestESBuilder(t, root)

	opts := bundle.NewOptions("index.js")
	opts.Platform = "ios"
	b, err := builder.Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Contains(t, b.Source(), "apple")
	assert.NotContains(t, b.Source(), "generic")

	opts.Platform = "android"
	b, err = builder.Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Contains(t, b.Source(), "generic")
}

func TestESBuilderRunsPreludeFirst(t *testing.T) {
	root := writeProject(t, map[string]string{
		"index.js":          "console.log('main module');\n",
		"InitializeCore.js": "console.log('core setup');\n",
	})
	builder := newTestESBuilder(t, root)

	b, err := builder.Build(context.Background(), bundle.NewOptions("index.js"))
	require.NoError(t, err)

	source := b.Source()
	core := strings.Index(source, "core setup")
	main := strings.Index(source, "main module")
	require.NotEqual(t, -1, core)
	require.NotEqual(t, -1, main)
	assert.Less(t, core, main)
}

func TestESBuilderSkipsMissingPrelude(t *testing.T) {
	root := writeProject(t, map[string]string{
		"index.js": "console.log('alone');\n",
	})
	builder := newTestESBuilder(t, root)

	opts := bundle.NewOptions("index.js")
	opts.RunBeforeMainModule = []string{"DoesNotExist"}
	b, err := builder.Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Contains(t, b.Source(), "alone")
}

func TestESBuilderMissingEntry(t *testing.T) {
	builder := newTestESBuilder(t, writeProject(t, nil))

	_, err := builder.Build(context.Background(), bundle.NewOptions("nope.js"))
	require.Error(t, err)
	assert.True(t, perrors.IsBuildFailure(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestESBuilderRejectsTraversal(t *testing.T) {
	builder := newTestESBuilder(t, writeProject(t, map[string]string{"index.js": "1;\n"}))

	_, err := builder.Build(context.Background(), bundle.NewOptions("../../etc/passwd"))
	require.Error(t, err)
	assert.True(t, perrors.IsBuildFailure(err))
}

func TestESBuilderSyntaxError(t *testing.T) {
	root := writeProject(t, map[string]string{
		"index.js": "const = ;\n",
	})
	builder := newTestESBuilder(t, root)

	_, err := builder.Build(context.Background(), bundle.NewOptions("index.js"))
	require.Error(t, err)
	assert.True(t, perrors.IsBuildFailure(err))
	assert.Contains(t, err.Error(), "index.js")
}

func TestESBuilderCancelledContext(t *testing.T) {
	builder := newTestESBuilder(t, writeProject(t, map[string]string{"index.js": "1;\n"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := builder.Build(ctx, bundle.NewOptions("index.js"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestESBuilderInvalidateFile(t *testing.T) {
	builder := newTestESBuilder(t, writeProject(t, nil))
	builder.InvalidateFile("/tmp/a.js")
	builder.InvalidateFile("/tmp/b.js")
	assert.Equal(t, int64(2), builder.Invalidations())
}

func TestResolveExtensions(t *testing.T) {
	builder := newTestESBuilder(t, writeProject(t, nil))
	builder.config.ResolveExtensions = []string{".js"}

	assert.Equal(t, []string{".js"}, builder.resolveExtensions(""))
	assert.Equal(t, []string{".ios.js", ".native.js", ".js"}, builder.resolveExtensions("ios"))
	assert.Equal(t, []string{".web.js", ".js"}, builder.resolveExtensions("web"))
}

