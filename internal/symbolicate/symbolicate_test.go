package symbolicate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/conneroisu/packager/internal/errors"
)

type fixedResolver map[[2]int]Position

func (r fixedResolver) OriginalPositionFor(line, column int) (Position, bool) {
	pos, ok := r[[2]int{line, column}]
	return pos, ok
}

type countingSource struct {
	resolver PositionResolver
	err      error
	urls     []string
}

func (s *countingSource) ConsumerFor(_ context.Context, bundleURL string) (PositionResolver, error) {
	s.urls = append(s.urls, bundleURL)
	return s.resolver, s.err
}

func TestSymbolicateBundleFrames(t *testing.T) {
	source := &countingSource{resolver: fixedResolver{
		{2100, 44}: {Source: "foo.js", Line: 21, Column: 4},
	}}
	s := New(source, nil)

	out, err := s.Symbolicate(context.Background(), []byte(`{
		"stack": [{
			"file": "http://foo.bundle?platform=tvos",
			"lineNumber": 2100,
			"column": 44,
			"customPropShouldBeLeftUnchanged": "foo",
			"methodName": "clientSideMethodName"
		}]
	}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"stack": [{
			"file": "foo.js",
			"lineNumber": 21,
			"column": 4,
			"customPropShouldBeLeftUnchanged": "foo",
			"methodName": "clientSideMethodName"
		}]
	}`, string(out))
	assert.Equal(t, []string{"http://foo.bundle?platform=tvos"}, source.urls)
}

func TestSymbolicatePassesThroughOtherFrames(t *testing.T) {
	source := &countingSource{resolver: fixedResolver{}}
	s := New(source, nil)

	input := `{"stack":[{"file":"debuggerWorker.js","lineNumber":1,"column":2,"extra":1.50}]}`
	out, err := s.Symbolicate(context.Background(), []byte(input))
	require.NoError(t, err)

	assert.JSONEq(t, input, string(out))
	assert.Contains(t, string(out), "1.50", "numbers are preserved exactly")
	assert.Empty(t, source.urls)
}

func TestSymbolicateLoadsEachBundleOnce(t *testing.T) {
	source := &countingSource{resolver: fixedResolver{
		{1, 0}: {Source: "a.js", Line: 1, Column: 0},
		{2, 0}: {Source: "b.js", Line: 5, Column: 0},
	}}
	s := New(source, nil)

	out, err := s.Symbolicate(context.Background(), []byte(`{"stack":[
		{"file":"http://localhost:8081/index.bundle","lineNumber":1,"column":0},
		{"file":"http://localhost:8081/index.bundle","lineNumber":2,"column":0},
		{"file":"http://localhost:8081/index.bundle","lineNumber":3,"column":0},
		{"file":"http://localhost:8081/other.bundle?platform=ios","lineNumber":1,"column":0}
	]}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"stack":[
		{"file":"a.js","lineNumber":1,"column":0},
		{"file":"b.js","lineNumber":5,"column":0},
		{"file":"http://localhost:8081/index.bundle","lineNumber":3,"column":0},
		{"file":"a.js","lineNumber":1,"column":0}
	]}`, string(out))
	assert.Equal(t, []string{
		"http://localhost:8081/index.bundle",
		"http://localhost:8081/other.bundle?platform=ios",
	}, source.urls)
}

func TestSymbolicateErrors(t *testing.T) {
	s := New(&countingSource{resolver: fixedResolver{}}, nil)

	for name, body := range map[string]string{
		"not json":       `<html>`,
		"no stack":       `{"frames":[]}`,
		"stack not list": `{"stack":"nope"}`,
		"frame not obj":  `{"stack":[null]}`,
		"trailing data":  `{"stack":[]} clearly-not-json`,
		"two objects":    `{"stack":[]}{"stack":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Symbolicate(context.Background(), []byte(body))
			require.Error(t, err)
			assert.True(t, perrors.IsSymbolicationError(err))
		})
	}
}

func TestSymbolicateConsumerFailure(t *testing.T) {
	s := New(&countingSource{err: errors.New("bundle build failed")}, nil)

	_, err := s.Symbolicate(context.Background(),
		[]byte(`{"stack":[{"file":"http://x/index.bundle","lineNumber":1,"column":1}]}`))
	require.Error(t, err)
	assert.True(t, perrors.IsSymbolicationError(err))
	assert.Contains(t, err.Error(), "bundle build failed")
}

func TestIsBundleURL(t *testing.T) {
	assert.True(t, IsBundleURL("http://foo.bundle?platform=tvos"))
	assert.True(t, IsBundleURL("http://localhost:8081/index.ios.bundle"))
	assert.True(t, IsBundleURL("/index.bundle"))
	assert.False(t, IsBundleURL("debuggerWorker.js"))
	assert.False(t, IsBundleURL("http://localhost:8081/index.map"))
	assert.False(t, IsBundleURL("http://foo/?file=x.bundle"))
}

func TestSourceMapConsumer(t *testing.T) {
	consumer, err := NewSourceMapConsumer([]byte(`{
		"version": 3,
		"file": "index.bundle",
		"sources": ["foo.js"],
		"names": [],
		"mappings": "AAAA;AACA"
	}`))
	require.NoError(t, err)

	pos, ok := consumer.OriginalPositionFor(2, 0)
	require.True(t, ok)
	assert.Equal(t, "foo.js", pos.Source)
	assert.Equal(t, 2, pos.Line)
	assert.Equal(t, 0, pos.Column)

	_, err = NewSourceMapConsumer([]byte(`{"version": 2}`))
	assert.True(t, perrors.IsSymbolicationError(err))
}
