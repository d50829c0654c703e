// Package errors is a drop-in replacement for the standard library errors package that annotates errors with
// [slog.Attr] and the source location where they were wrapped.
//
// Use [SlogError] to log the error with all the annotations collected along the error chain.
package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
)

// annotatedError carries a message, the wrapped error, slog attributes and the file:line of the call site.
type annotatedError struct {
	msg    string
	err    error
	attrs  []slog.Attr
	source string
}

func (e *annotatedError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *annotatedError) Unwrap() error {
	return e.err
}

// callerSource returns file:line of the function calling the exported constructor.
func callerSource() string {
	// Skip callerSource and the exported constructor.
	_, file, line, ok := runtime.Caller(2) //nolint:mnd // see comment above.
	if !ok {
		return ""
	}
	return file + ":" + strconv.Itoa(line)
}

// NewSentinel creates a comparable error without source information, suitable for package level sentinels.
func NewSentinel(msg string) error {
	return stderrors.New(msg)
}

// New creates a new error annotated with the caller's source location.
func New(msg string, attrs ...slog.Attr) error {
	return &annotatedError{msg: msg, err: nil, attrs: attrs, source: callerSource()}
}

// Wrap annotates err with msg and attrs. Wrap returns nil if err is nil.
func Wrap(err error, msg string, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	return &annotatedError{msg: msg, err: err, attrs: attrs, source: callerSource()}
}

// DecoratePanic converts the recovered value excp into an error annotated with the location of the panic.
//
// It must be called directly from the deferred function that recovered the panic. Returns nil if excp is nil.
func DecoratePanic(excp any) error {
	if excp == nil {
		return nil
	}
	var (
		pcs     [32]uintptr
		n       = runtime.Callers(2, pcs[:]) //nolint:mnd // skip runtime.Callers and DecoratePanic.
		frames  = runtime.CallersFrames(pcs[:n])
		source string
		seen   bool
	)
	for {
		frame, more := frames.Next()
		if seen && !strings.HasPrefix(frame.Function, "runtime.") {
			source = frame.File + ":" + strconv.Itoa(frame.Line)
			break
		}
		if frame.Function == "runtime.gopanic" {
			seen = true
		}
		if !more {
			break
		}
	}
	return &annotatedError{msg: fmt.Sprintf("panic: %v", excp), err: nil, attrs: nil, source: source}
}

// SlogError returns a [slog.Attr] grouping the error message, the annotations found in the chain, and the source
// of the outermost annotated error.
func SlogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{Key: "error", Value: slog.StringValue("<nil>")}
	}
	var (
		annotations []any
		source      string
	)
	walk(err, func(ae *annotatedError) {
		for _, attr := range ae.attrs {
			annotations = append(annotations, attr)
		}
		if source == "" {
			source = ae.source
		}
	})
	attrs := []any{slog.String("message", err.Error())}
	if source != "" {
		attrs = append(attrs, slog.String("source", source))
	}
	if len(annotations) > 0 {
		attrs = append(attrs, slog.Group("annotations", annotations...))
	}
	return slog.Group("error", attrs...)
}

// walk visits every annotated error in the tree of err, including branches of joined errors.
func walk(err error, visit func(*annotatedError)) {
	if err == nil {
		return
	}
	if ae, ok := err.(*annotatedError); ok { //nolint:errorlint // we walk the chain manually.
		visit(ae)
	}
	switch x := err.(type) { //nolint:errorlint // we walk the chain manually.
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			walk(e, visit)
		}
	case interface{ Unwrap() error }:
		walk(x.Unwrap(), visit)
	}
}

// Is reports whether any error in err's tree matches target. See [errors.Is].
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target. See [errors.As].
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err. See [errors.Unwrap].
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join returns an error that wraps the given errors. See [errors.Join].
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
