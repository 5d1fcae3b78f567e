package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Bundle is a built JS bundle.
type Bundle interface {
	Source() string
	SourceMap() string
	ETag() string
}

// Builder produces bundles. Build blocks until the bundle is ready or the
// build failed; callers that need a shared pending result wrap it themselves.
type Builder interface {
	Build(ctx context.Context, opts Options) (Bundle, error)
	// InvalidateFile tells the builder that the file at the absolute path
	// changed so its dependency graph can drop stale state.
	InvalidateFile(path string)
}

// Artifact is an in-memory Bundle.
type Artifact struct {
	source    string
	sourceMap string
	etag      string
}

// NewArtifact returns an Artifact whose ETag is derived from the source.
func NewArtifact(source, sourceMap string) *Artifact {
	return &Artifact{source: source, sourceMap: sourceMap, etag: ContentETag(source)}
}

// NewArtifactWithETag returns an Artifact with an explicit ETag.
func NewArtifactWithETag(source, sourceMap, etag string) *Artifact {
	return &Artifact{source: source, sourceMap: sourceMap, etag: etag}
}

func (a *Artifact) Source() string    { return a.source }
func (a *Artifact) SourceMap() string { return a.sourceMap }
func (a *Artifact) ETag() string      { return a.etag }

// ContentETag computes a quoted strong ETag from content.
func ContentETag(content string) string {
	sum := sha256.Sum256([]byte(content))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
