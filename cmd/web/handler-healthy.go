package main

import (
	"net/http"
	"strconv"
	"time"
)

// healthy responds with a JSON object indicating that the server is healthy.
func (app *application) healthy(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// testTimeout sleeps for the sleep_ms query parameter. It exercises the timeout middleware.
func (app *application) testTimeout(w http.ResponseWriter, r *http.Request) {
	sleepMs, err := strconv.Atoi(r.URL.Query().Get("sleep_ms"))
	if err != nil || sleepMs < 0 {
		app.errorResponse(w, r, http.StatusBadRequest, "invalid sleep_ms parameter")
		return
	}
	select {
	case <-time.After(time.Duration(sleepMs) * time.Millisecond):
	case <-r.Context().Done():
		return
	}
	app.writeJSON(w, r, http.StatusOK, map[string]any{"status": "completed", "slept_ms": sleepMs})
}
