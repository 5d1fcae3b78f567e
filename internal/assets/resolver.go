package assets

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	perrors "github.com/conneroisu/packager/internal/errors"
)

// FSResolver reads assets from a set of roots on an afero filesystem.
type FSResolver struct {
	fs    afero.Fs
	roots []string
}

// NewFSResolver creates a resolver searching roots in order.
func NewFSResolver(fsys afero.Fs, roots []string) *FSResolver {
	return &FSResolver{fs: fsys, roots: append([]string(nil), roots...)}
}

// NewOSResolver resolves assets from the host filesystem.
func NewOSResolver(roots []string) *FSResolver {
	return NewFSResolver(afero.NewOsFs(), roots)
}

// Get returns the contents of relPath, preferring the platform variant
// name.<platform>.ext when platform is set.
func (r *FSResolver) Get(ctx context.Context, relPath, platform string) ([]byte, error) {
	clean, ok := cleanRelative(relPath)
	if !ok {
		return nil, perrors.NewAssetNotFound(relPath, platform, errors.New("path escapes the asset roots"))
	}

	candidates := []string{clean}
	if platform != "" {
		ext := path.Ext(clean)
		candidates = append([]string{strings.TrimSuffix(clean, ext) + "." + platform + ext}, candidates...)
	}

	var lastErr error = fs.ErrNotExist
	for _, root := range r.roots {
		for _, candidate := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			full := filepath.Join(root, filepath.FromSlash(candidate))
			data, err := afero.ReadFile(r.fs, full)
			if err == nil {
				return data, nil
			}
			lastErr = err
		}
	}
	return nil, perrors.NewAssetNotFound(relPath, platform, lastErr)
}

// cleanRelative rejects absolute paths and any path with a ".." segment.
func cleanRelative(p string) (string, bool) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", false
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", false
		}
	}
	clean := path.Clean(p)
	if clean == "." {
		return "", false
	}
	return clean, true
}
