package main

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/trace"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/myrjola/struggle/internal/contexthelpers"
	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/logging"
	"github.com/myrjola/struggle/internal/workout"
)

const sessionUserIDKey = "user_id"

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		headerWritten:  false,
	}
}

func (mw *statusResponseWriter) WriteHeader(statusCode int) {
	mw.ResponseWriter.WriteHeader(statusCode)

	if !mw.headerWritten {
		mw.statusCode = statusCode
		mw.headerWritten = true
	}
}

func (mw *statusResponseWriter) Write(b []byte) (int, error) {
	mw.headerWritten = true
	written, err := mw.ResponseWriter.Write(b)
	if err != nil {
		return written, fmt.Errorf("write response: %w", err)
	}
	return written, nil
}

func (mw *statusResponseWriter) Unwrap() http.ResponseWriter {
	return mw.ResponseWriter
}

// secureHeaders sets headers for a JSON API that is never framed or rendered as a document.
func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "deny")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		next.ServeHTTP(w, r)
	})
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func (app *application) logAndTraceRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			proto  = r.Proto
			method = r.Method
			uri    = r.URL.RequestURI()
		)

		ctx := r.Context()
		traceID := rand.Text()
		ctx = logging.WithAttrs(
			ctx,
			slog.String("trace_id", traceID),
			slog.String("proto", proto),
			slog.String("method", method),
			slog.String("uri", uri),
		)
		r = r.WithContext(ctx)

		start := time.Now()
		app.logger.LogAttrs(ctx, slog.LevelDebug, "received request")

		sw := newStatusResponseWriter(w)

		if trace.IsEnabled() {
			traceCtx, task := trace.NewTask(ctx, fmt.Sprintf("HTTP %s %s", method, r.URL.Path))
			trace.Log(traceCtx, "trace_id", traceID)
			defer task.End()
			r = r.WithContext(traceCtx)
		}
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		if sw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		app.metrics.CounterRequests.WithLabelValues(method, strconv.Itoa(sw.statusCode)).Inc()
		app.logger.LogAttrs(r.Context(), level, "request completed",
			slog.Int("status_code", sw.statusCode), slog.Duration("duration", time.Since(start)))
	})
}

// instrument records the handler latency labeled with the route pattern.
func (app *application) instrument(pattern string, next http.Handler) http.Handler {
	route := pattern
	if _, path, ok := strings.Cut(pattern, " "); ok {
		route = path
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		app.metrics.HistogramRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func (app *application) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := errors.DecoratePanic(recover()); err != nil {
				w.Header().Set("Connection", "close")
				app.serverError(w, r, err)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ensureUser loads the session user and creates an anonymous one on the first request.
func (app *application) ensureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var (
			user workout.User
			err  error
		)
		userID := app.sessionManager.GetInt64(ctx, sessionUserIDKey)
		if userID != 0 {
			user, err = app.workoutService.GetUser(ctx, userID)
			if errors.Is(err, workout.ErrNotFound) {
				userID = 0
			} else if err != nil {
				app.serverError(w, r, err)
				return
			}
		}
		if userID == 0 {
			if user, err = app.workoutService.CreateUser(ctx); err != nil {
				app.serverError(w, r, err)
				return
			}
			if err = app.sessionManager.RenewToken(ctx); err != nil {
				app.serverError(w, r, err)
				return
			}
			app.sessionManager.Put(ctx, sessionUserIDKey, user.ID)
		}
		r = contexthelpers.AuthenticateContext(r, user.ID, string(user.Tier))
		r = r.WithContext(logging.WithAttrs(r.Context(), slog.Int64("user_id", user.ID)))
		next.ServeHTTP(w, r)
	})
}

// mustAdmin asserts that the request carries the admin bearer token.
func (app *application) mustAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if app.adminToken == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(app.adminToken)) != 1 {
			app.errorResponse(w, r, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, contexthelpers.SetAdmin(r))
	})
}

const timeoutBody = `{"error":"request timed out"}`

// timeout cancels the request context shortly before the server's write timeout and answers 503.
// A trace is captured when the flight recorder is enabled.
func (app *application) timeout(next http.Handler) http.Handler {
	handlerTimeout := defaultTimeout - 200*time.Millisecond //nolint:mnd // writing the response takes time.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var finished atomic.Bool
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			finished.Store(true)
		})
		http.TimeoutHandler(inner, handlerTimeout, timeoutBody).ServeHTTP(w, r)
		if !finished.Load() && app.flightRecorder != nil {
			app.flightRecorder.Capture(r.Context(), "timeout")
		}
	})
}
