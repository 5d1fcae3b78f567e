package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/conneroisu/packager/internal/assets"
	"github.com/conneroisu/packager/internal/bundle"
	"github.com/conneroisu/packager/internal/errors"
	"github.com/conneroisu/packager/internal/symbolicate"
)

// StatusText is the body of /status.
const StatusText = "packager-status:running"

// maxSymbolicateBody bounds the stack trace payload.
const maxSymbolicateBody = 10 << 20

// router dispatches on the request path only.
func (s *Server) router() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		switch {
		case p == "/onchange":
			s.handleOnChange(w, r)
		case p == "/symbolicate":
			s.handleSymbolicate(w, r)
		case p == "/status":
			s.handleStatus(w, r)
		case p == "/hot":
			s.handleHot(w, r)
		case p == "/debug":
			s.handleDebug(w, r)
		case p == "/debug/bundles":
			s.handleDebugBundles(w, r)
		case strings.HasPrefix(p, assets.Prefix):
			s.assets.ServeHTTP(w, r)
		case strings.HasSuffix(p, ".bundle"), strings.HasSuffix(p, ".map"):
			s.handleBundle(w, r)
		default:
			s.next.ServeHTTP(w, r)
		}
	})
}

// parseBundleURL parses a bundle or map URL against the configured platforms
// and applies the configured run-before-main modules.
func (s *Server) parseBundleURL(rawURL string) (bundle.Options, bundle.Kind, error) {
	opts, kind, err := s.urlParser.Parse(rawURL)
	if err != nil {
		return opts, kind, err
	}
	if modules := s.config.Bundler.RunBeforeMainModule; modules != nil {
		opts.RunBeforeMainModule = append([]string{}, modules...)
	}
	return opts, kind, nil
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts, kind, err := s.parseBundleURL(r.URL.RequestURI())
	if err != nil {
		s.logger.Debug(ctx, "Passing malformed bundle request on", "url", r.URL.String())
		s.next.ServeHTTP(w, r)
		return
	}

	b, err := s.cache.GetOrBuild(opts).Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Debug(ctx, "Client went away while waiting for bundle", "entry_file", opts.EntryFile)
			return
		}
		s.logger.Error(ctx, err, "Bundle build failed", "entry_file", opts.EntryFile, "platform", opts.Platform)
		writeBuildFailure(w, err)
		return
	}

	switch kind {
	case bundle.KindMap:
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, b.SourceMap())
	default:
		etag := b.ETag()
		if etag != "" && r.Header.Get("If-None-Match") == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		_, _ = io.WriteString(w, b.Source())
	}
}

// BuildFailureResponse is the body sent when a bundle cannot be built.
type BuildFailureResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeBuildFailure(w http.ResponseWriter, err error) {
	message := err.Error()
	if pe, ok := errors.As(err); ok {
		message = pe.Message
		if pe.Cause != nil {
			message += ": " + pe.Cause.Error()
		}
	}
	writeJSON(w, http.StatusInternalServerError, BuildFailureResponse{
		Type:    "BuildFailure",
		Message: message,
	})
}

func (s *Server) handleOnChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.hub.Wait(ctx); err != nil {
		s.logger.Debug(ctx, "Long-poll client disconnected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": true})
}

func (s *Server) handleSymbolicate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSymbolicateBody))
	if err != nil {
		err = errors.NewSymbolicationError("reading request body", err)
		s.logger.Error(ctx, err, "Symbolication failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	out, err := s.symbolicator.Symbolicate(ctx, body)
	if err != nil {
		s.logger.Error(ctx, err, "Symbolication failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, StatusText)
}

// consumerFor resolves a bundle URL from a stack frame to its source map.
// Frames may carry absolute URLs such as http://host:8081/index.bundle?x=y.
func (s *Server) consumerFor(ctx context.Context, bundleURL string) (symbolicate.PositionResolver, error) {
	u, err := url.Parse(bundleURL)
	if err != nil {
		return nil, errors.NewMalformedRequestError(bundleURL, err.Error())
	}

	p := u.EscapedPath()
	if p == "" || p == "/" {
		// http://index.bundle style URLs carry the bundle name as host.
		p = "/" + u.Host
	}
	requestURI := p
	if u.RawQuery != "" {
		requestURI += "?" + u.RawQuery
	}

	opts, _, err := s.parseBundleURL(requestURI)
	if err != nil {
		return nil, err
	}

	b, err := s.cache.GetOrBuild(opts).Wait(ctx)
	if err != nil {
		return nil, err
	}
	return symbolicate.NewSourceMapConsumer([]byte(b.SourceMap()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
