package build

import (
	"context"

	"github.com/conneroisu/packager/internal/bundle"
)

// Future is the pending or resolved result of one build. It resolves exactly
// once; every waiter observes the same bundle or the same error.
type Future struct {
	done   chan struct{}
	bundle bundle.Bundle
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(b bundle.Bundle, err error) {
	f.bundle = b
	f.err = err
	close(f.done)
}

// Done is closed once the build finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the build finished.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the build finished or ctx is done.
func (f *Future) Wait(ctx context.Context) (bundle.Bundle, error) {
	select {
	case <-f.done:
		return f.bundle, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the build error of a finished future and nil otherwise.
func (f *Future) Err() error {
	if !f.Ready() {
		return nil
	}
	return f.err
}

// Result returns the build outcome without blocking; ok is false while the
// build is still running.
func (f *Future) Result() (b bundle.Bundle, err error, ok bool) {
	if !f.Ready() {
		return nil, nil, false
	}
	return f.bundle, f.err, true
}
