package insight

import (
	"context"
	"net"
	"net/http"

	"github.com/myrjola/struggle/internal/errors"
	"github.com/openai/openai-go/v3"
)

// Kind classifies a collaborator failure.
type Kind string

const (
	KindRateLimit      Kind = "rate_limit"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindAuthentication Kind = "authentication"
	KindInvalidRequest Kind = "invalid_request"
	KindTimeout        Kind = "timeout"
	KindNetwork        Kind = "network"
	KindServer         Kind = "server_error"
	KindEmpty          Kind = "empty_response"
	KindDisabled       Kind = "disabled"
	KindUnknown        Kind = "unknown"
)

// Error is a classified collaborator failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return "text generation " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether trying again later may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind { //nolint:exhaustive // the rest are permanent.
	case KindRateLimit, KindTimeout, KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	if errors.Is(err, ErrDisabled) {
		return KindDisabled
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return classify(err).Kind
}

func classify(err error) *Error {
	out := &Error{Kind: KindUnknown, StatusCode: 0, Err: err}
	var apiErr *openai.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		out.Kind = KindTimeout
	case errors.As(err, &apiErr):
		out.StatusCode = apiErr.StatusCode
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests && apiErr.Code == "insufficient_quota":
			out.Kind = KindQuotaExceeded
		case apiErr.StatusCode == http.StatusTooManyRequests:
			out.Kind = KindRateLimit
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			out.Kind = KindAuthentication
		case apiErr.StatusCode >= http.StatusInternalServerError:
			out.Kind = KindServer
		case apiErr.StatusCode >= http.StatusBadRequest:
			out.Kind = KindInvalidRequest
		}
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			out.Kind = KindTimeout
		} else {
			out.Kind = KindNetwork
		}
	}
	return out
}
