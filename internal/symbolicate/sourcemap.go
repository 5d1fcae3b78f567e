package symbolicate

import (
	"github.com/go-sourcemap/sourcemap"

	perrors "github.com/conneroisu/packager/internal/errors"
)

// SourceMapConsumer resolves positions through a parsed source map.
type SourceMapConsumer struct {
	consumer *sourcemap.Consumer
}

// NewSourceMapConsumer parses a version 3 source map. Sources are reported
// as written in the map.
func NewSourceMapConsumer(data []byte) (*SourceMapConsumer, error) {
	consumer, err := sourcemap.Parse("", data)
	if err != nil {
		return nil, perrors.NewSymbolicationError("parsing source map", err)
	}
	return &SourceMapConsumer{consumer: consumer}, nil
}

// OriginalPositionFor takes a 1-based line and 0-based column.
func (c *SourceMapConsumer) OriginalPositionFor(line, column int) (Position, bool) {
	source, name, origLine, origColumn, ok := c.consumer.Source(line, column)
	if !ok {
		return Position{}, false
	}
	return Position{Source: source, Line: origLine, Column: origColumn, Name: name}, true
}
