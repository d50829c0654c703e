package testhelpers

import (
	"io"
	"sync/atomic"
	"testing"
)

// Writer forwards log lines to the test output so they are attributed to the test that produced them.
type Writer struct {
	out  io.Writer
	name string
	done atomic.Bool
}

// NewWriter returns a Writer for t. Writing after t has finished panics, which usually means a server or
// goroutine outlived its test.
func NewWriter(t testing.TB) io.Writer {
	w := &Writer{out: t.Output(), name: t.Name(), done: atomic.Bool{}}
	t.Cleanup(func() {
		w.done.Store(true)
	})
	return w
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.done.Load() {
		panic("testhelpers: log write after " + w.name + " finished: " + string(p))
	}
	if len(p) == 0 {
		return 0, nil
	}
	return w.out.Write(p) //nolint:wrapcheck // transparent writer.
}
