package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/insight"
	"github.com/myrjola/struggle/internal/struggle"
	"github.com/myrjola/struggle/internal/workout"
)

const (
	maxBodyBytes = 64 << 10
	// retryAfterSeconds is advertised when the text generation provider is expected to recover.
	retryAfterSeconds = "30"
)

var errMalformedBody = errors.NewSentinel("malformed request body")

type errorBody struct {
	Error string `json:"error"`
}

func (app *application) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		app.serverError(w, r, errors.Wrap(err, "marshal response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(append(data, '\n')); err != nil {
		app.logger.LogAttrs(r.Context(), slog.LevelWarn, "write response", errors.SlogError(err))
	}
}

// decodeJSON decodes the request body into v and rejects unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errMalformedBody, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.Wrap(errMalformedBody, "body must contain a single JSON object")
	}
	return nil
}

func (app *application) errorResponse(w http.ResponseWriter, r *http.Request, status int, msg string) {
	app.writeJSON(w, r, status, errorBody{Error: msg})
}

func (app *application) serverError(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.LogAttrs(r.Context(), slog.LevelError, "server error", errors.SlogError(err))
	app.errorResponse(w, r, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func (app *application) notFound(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusNotFound, http.StatusText(http.StatusNotFound))
}

// statusFor maps error classes to HTTP status codes. Zero means the error is unexpected.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMalformedBody), errors.Is(err, struggle.ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, struggle.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workout.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workout.ErrQuotaExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, workout.ErrProtocolLocked):
		return http.StatusForbidden
	case errors.Is(err, workout.ErrAlreadyCompleted):
		return http.StatusConflict
	case errors.Is(err, workout.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}

// handleError answers with the status of err's class. Unexpected errors become 500.
func (app *application) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == 0 {
		app.serverError(w, r, err)
		return
	}
	app.logger.LogAttrs(r.Context(), slog.LevelInfo, "request rejected",
		slog.Int("status_code", status), errors.SlogError(err))
	msg := err.Error()
	if status == http.StatusServiceUnavailable {
		// Collaborator errors may contain provider details.
		msg = workout.ErrUnavailable.Error()
		var ie *insight.Error
		if errors.As(err, &ie) && ie.Retryable() {
			w.Header().Set("Retry-After", retryAfterSeconds)
		}
	}
	app.errorResponse(w, r, status, msg)
}

func parseIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
