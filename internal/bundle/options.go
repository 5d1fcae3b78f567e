// Package bundle holds the build configuration model of the packager: the
// Options describing one distinct way of bundling an entry module, the parser
// turning request URLs into Options, and the collaborator interfaces the server
// builds bundles through.
package bundle

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"github.com/conneroisu/packager/internal/errors"
)

// Kind distinguishes bundle requests from source map requests.
type Kind int

const (
	KindBundle Kind = iota
	KindMap
)

// String returns the request extension of the kind.
func (k Kind) String() string {
	switch k {
	case KindBundle:
		return "bundle"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

const (
	bundleExt = ".bundle"
	mapExt    = ".map"
)

// Compatibility tags that used to be encoded in the entry module name.
const (
	tagIncludeRequire = "includeRequire"
	tagRunModule      = "runModule"
)

// DefaultRunBeforeMainModule lists the modules evaluated before the entry module.
var DefaultRunBeforeMainModule = []string{"InitializeCore"}

// KnownPlatforms are platform tags recognized as a path suffix, e.g. index.ios.bundle.
var KnownPlatforms = []string{"ios", "android", "web", "tvos"}

// PlatformAppleTV is the path suffix that also sets the AppleTV family flag.
const PlatformAppleTV = "tvos"

// Options is the normalized configuration of one bundle build. Values are
// treated as immutable: constructors return fresh copies and callers must not
// mutate the slices of a value they did not create.
type Options struct {
	EntryFile           string   `json:"entryFile"`
	Platform            string   `json:"platform"`
	Dev                 bool     `json:"dev"`
	Minify              bool     `json:"minify"`
	Hot                 bool     `json:"hot"`
	RunModule           bool     `json:"runModule"`
	InlineSourceMap     bool     `json:"inlineSourceMap"`
	SourceMapURL        string   `json:"sourceMapUrl,omitempty"`
	Unbundle            bool     `json:"unbundle"`
	EntryModuleOnly     bool     `json:"entryModuleOnly"`
	IsolateModuleIDs    bool     `json:"isolateModuleIDs"`
	AssetPlugins        []string `json:"assetPlugins"`
	RunBeforeMainModule []string `json:"runBeforeMainModule"`
	AppleTV             bool     `json:"appletv"`
}

// NewOptions returns the default options for building entryFile.
func NewOptions(entryFile string) Options {
	return Options{
		EntryFile:           entryFile,
		Dev:                 true,
		RunModule:           true,
		AssetPlugins:        []string{},
		RunBeforeMainModule: append([]string(nil), DefaultRunBeforeMainModule...),
	}
}

// CacheKey returns the canonical serialization used to identify equivalent
// builds. SourceMapURL is excluded: bundle and map requests for the same
// configuration share one build.
func (o Options) CacheKey() string {
	key := o
	key.SourceMapURL = ""
	if key.AssetPlugins == nil {
		key.AssetPlugins = []string{}
	}
	if key.RunBeforeMainModule == nil {
		key.RunBeforeMainModule = []string{}
	}

	// Marshalling a struct of strings, bools and string slices cannot fail.
	data, _ := json.Marshal(key)
	return string(data)
}

// Clone returns a deep copy of o.
func (o Options) Clone() Options {
	c := o
	c.AssetPlugins = append([]string{}, o.AssetPlugins...)
	c.RunBeforeMainModule = append([]string{}, o.RunBeforeMainModule...)
	return c
}

// Parser turns request URLs into build Options. Platforms lists the tags
// recognized as a path suffix.
type Parser struct {
	Platforms []string
}

// NewParser returns a parser for platforms, or for KnownPlatforms when
// platforms is empty.
func NewParser(platforms []string) Parser {
	if len(platforms) == 0 {
		platforms = KnownPlatforms
	}
	return Parser{Platforms: append([]string(nil), platforms...)}
}

// ParseURL parses rawURL with the KnownPlatforms suffixes.
func ParseURL(rawURL string) (Options, Kind, error) {
	return NewParser(nil).Parse(rawURL)
}

// Parse converts a bundle or source map request URL (path plus optional
// query) into build Options. It fails with a malformed request error when the
// path carries neither a .bundle nor a .map extension.
func (p Parser) Parse(rawURL string) (Options, Kind, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Options{}, KindBundle, errors.NewMalformedRequestError(rawURL, err.Error())
	}

	pathname := u.Path
	var kind Kind
	switch {
	case strings.HasSuffix(pathname, bundleExt):
		kind = KindBundle
	case strings.HasSuffix(pathname, mapExt):
		kind = KindMap
	default:
		return Options{}, KindBundle, errors.NewMalformedRequestError(rawURL, "expected a .bundle or .map extension")
	}

	ext := bundleExt
	if kind == KindMap {
		ext = mapExt
	}
	withoutExt := strings.TrimSuffix(pathname, ext)

	name, runModuleTag := entryName(strings.TrimPrefix(withoutExt, "/"))
	if name == "" || strings.HasSuffix(name, "/") {
		return Options{}, kind, errors.NewMalformedRequestError(rawURL, "missing entry module name")
	}

	query := u.Query()
	suffixPlatform := p.platformFromPath(withoutExt)

	platform := query.Get("platform")
	if platform == "" {
		platform = suffixPlatform
	}

	dev := boolParam(query, "dev", true)
	runModule := boolParam(query, "runModule", true) || runModuleTag

	opts := Options{
		EntryFile:           name + ".js",
		Platform:            platform,
		Dev:                 dev,
		Minify:              boolParam(query, "minify", !dev),
		Hot:                 boolParam(query, "hot", false),
		RunModule:           runModule,
		InlineSourceMap:     boolParam(query, "inlineSourceMap", false),
		SourceMapURL:        sourceMapURL(u, withoutExt),
		Unbundle:            boolParam(query, "unbundle", false),
		EntryModuleOnly:     boolParam(query, "entryModuleOnly", false),
		IsolateModuleIDs:    boolParam(query, "isolateModuleIDs", false),
		AssetPlugins:        append([]string{}, query["assetPlugin"]...),
		RunBeforeMainModule: append([]string(nil), DefaultRunBeforeMainModule...),
		AppleTV:             boolParam(query, "appletv", false) || suffixPlatform == PlatformAppleTV,
	}

	return opts, kind, nil
}

// entryName drops the compatibility tags from the dot separated module name
// and reports whether the runModule tag was present.
func entryName(name string) (string, bool) {
	dir, base := path.Split(name)
	parts := strings.Split(base, ".")
	kept := parts[:0]
	runModule := false
	for _, part := range parts {
		switch part {
		case tagIncludeRequire:
		case tagRunModule:
			runModule = true
		default:
			kept = append(kept, part)
		}
	}
	return dir + strings.Join(kept, "."), runModule
}

// platformFromPath returns the platform named by the last dot segment of
// the path, e.g. "ios" for "index.ios".
func (p Parser) platformFromPath(withoutExt string) string {
	base := path.Base(withoutExt)
	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		return ""
	}
	candidate := base[idx+1:]
	for _, platform := range p.Platforms {
		if candidate == platform {
			return platform
		}
	}
	return ""
}

// sourceMapURL rewrites the request extension to .map, keeping the query.
func sourceMapURL(u *url.URL, withoutExt string) string {
	mapped := *u
	mapped.Path = withoutExt + mapExt
	mapped.RawPath = ""
	mapped.Fragment = ""
	return mapped.String()
}

// boolParam reads a boolean query parameter: "true" and "1" are true, any
// other present value is false and an absent parameter yields def.
func boolParam(query url.Values, name string, def bool) bool {
	values, ok := query[name]
	if !ok || len(values) == 0 {
		return def
	}
	return values[0] == "true" || values[0] == "1"
}
