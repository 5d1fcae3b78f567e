// Package assets serves static project assets under /assets/.
package assets

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	perrors "github.com/conneroisu/packager/internal/errors"
	"github.com/conneroisu/packager/internal/logging"
)

// Prefix is the URL path prefix of asset requests.
const Prefix = "/assets/"

// CacheControl is sent with every asset; asset URLs change with content.
const CacheControl = "max-age=31536000"

// Resolver fetches asset contents by root-relative path and platform.
type Resolver interface {
	Get(ctx context.Context, relPath, platform string) ([]byte, error)
}

// Responder is the http.Handler for asset requests.
type Responder struct {
	resolver Resolver
	logger   logging.Logger
}

// NewResponder creates a Responder over resolver.
func NewResponder(resolver Resolver, logger logging.Logger) *Responder {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Responder{resolver: resolver, logger: logger.WithComponent("assets")}
}

// AssetPath extracts the decoded, NFC-normalized asset path from u.
func AssetPath(u *url.URL) (string, error) {
	escaped := strings.TrimPrefix(u.EscapedPath(), Prefix)
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return "", perrors.NewMalformedRequestError(u.String(), err.Error())
	}
	return norm.NFC.String(decoded), nil
}

func (rs *Responder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assetPath, err := AssetPath(r.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	platform := r.URL.Query().Get("platform")

	data, err := rs.resolver.Get(ctx, assetPath, platform)
	if err != nil {
		if perrors.IsAssetNotFound(err) {
			rs.logger.Debug(ctx, "Asset not found", "path", assetPath, "platform", platform)
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		rs.logger.Error(ctx, err, "Failed to read asset", "path", assetPath)
		http.Error(w, "failed to read asset", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", CacheControl)
	contentType := mime.TypeByExtension(path.Ext(assetPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	if header := r.Header.Get("Range"); header != "" {
		if start, end, ok := ParseRange(header, len(data)); ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
			w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data[start : end+1])
			return
		}
		rs.logger.Debug(ctx, "Ignoring unsatisfiable range", "range", header, "size", len(data))
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ParseRange parses a single "bytes=start-end" range against size. The end
// is inclusive, optional and clamped to the last byte. ok is false for any
// malformed or unsatisfiable range.
func ParseRange(header string, size int) (start, end int, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	startText, endText, found := strings.Cut(spec, "-")
	if !found || startText == "" {
		return 0, 0, false
	}

	start, err := strconv.Atoi(strings.TrimSpace(startText))
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}

	end = size - 1
	if endText = strings.TrimSpace(endText); endText != "" {
		end, err = strconv.Atoi(endText)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return start, end, true
}
