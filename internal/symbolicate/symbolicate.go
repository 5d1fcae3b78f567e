// Package symbolicate maps stack frames of bundled code back to their
// original source positions.
package symbolicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	perrors "github.com/conneroisu/packager/internal/errors"
	"github.com/conneroisu/packager/internal/logging"
)

// Position is an original source location.
type Position struct {
	Source string
	Line   int
	Column int
	Name   string
}

// PositionResolver looks up original positions in one bundle's source map.
type PositionResolver interface {
	OriginalPositionFor(line, column int) (Position, bool)
}

// ConsumerSource provides the position resolver of the bundle served at a URL.
type ConsumerSource interface {
	ConsumerFor(ctx context.Context, bundleURL string) (PositionResolver, error)
}

// ConsumerSourceFunc adapts a function to ConsumerSource.
type ConsumerSourceFunc func(ctx context.Context, bundleURL string) (PositionResolver, error)

// ConsumerFor calls f.
func (f ConsumerSourceFunc) ConsumerFor(ctx context.Context, bundleURL string) (PositionResolver, error) {
	return f(ctx, bundleURL)
}

// Symbolicator rewrites the frames of a stack trace.
type Symbolicator struct {
	source ConsumerSource
	logger logging.Logger
}

// New creates a Symbolicator.
func New(source ConsumerSource, logger logging.Logger) *Symbolicator {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Symbolicator{source: source, logger: logger.WithComponent("symbolicate")}
}

type frame = map[string]interface{}

// Symbolicate decodes {"stack":[...]} from raw and returns the same document
// with bundle frames pointing at original sources. Frame fields other than
// file, lineNumber and column are kept as sent.
func (s *Symbolicator) Symbolicate(ctx context.Context, raw []byte) ([]byte, error) {
	stack, err := decodeStack(raw)
	if err != nil {
		return nil, err
	}

	consumers := make(map[string]PositionResolver)
	resolved := 0
	for _, f := range stack {
		file, ok := f["file"].(string)
		if !ok || !IsBundleURL(file) {
			continue
		}
		line, okLine := intField(f, "lineNumber")
		column, okColumn := intField(f, "column")
		if !okLine || !okColumn {
			continue
		}

		consumer, ok := consumers[file]
		if !ok {
			consumer, err = s.source.ConsumerFor(ctx, file)
			if err != nil {
				return nil, perrors.NewSymbolicationError(fmt.Sprintf("loading source map for %s", file), err)
			}
			consumers[file] = consumer
		}

		pos, found := consumer.OriginalPositionFor(line, column)
		if !found {
			continue
		}
		f["file"] = pos.Source
		f["lineNumber"] = pos.Line
		f["column"] = pos.Column
		resolved++
	}

	s.logger.Debug(ctx, "Symbolicated stack",
		"frames", len(stack),
		"resolved", resolved,
		"bundles", len(consumers),
	)

	out, err := json.Marshal(map[string]interface{}{"stack": stack})
	if err != nil {
		return nil, perrors.NewSymbolicationError("encoding stack", err)
	}
	return out, nil
}

func decodeStack(raw []byte) ([]frame, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var body struct {
		Stack []frame `json:"stack"`
	}
	if err := decoder.Decode(&body); err != nil {
		return nil, perrors.NewSymbolicationError("invalid stack trace payload", err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, perrors.NewSymbolicationError("unexpected data after the stack object", nil)
	}
	if body.Stack == nil {
		return nil, perrors.NewSymbolicationError("payload has no stack", nil)
	}
	for i, f := range body.Stack {
		if f == nil {
			return nil, perrors.NewSymbolicationError(fmt.Sprintf("stack frame %d is not an object", i), nil)
		}
	}
	return body.Stack, nil
}

// IsBundleURL reports whether file names a bundle served by the packager.
func IsBundleURL(file string) bool {
	u, err := url.Parse(file)
	if err != nil {
		return false
	}
	if u.Path == "" || u.Path == "/" {
		return strings.HasSuffix(u.Host, ".bundle")
	}
	return strings.HasSuffix(u.Path, ".bundle")
}

func intField(f frame, key string) (int, bool) {
	switch v := f[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
