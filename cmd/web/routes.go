package main

import (
	"net/http"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	var (
		// shared labels metrics with the route pattern.
		shared = func(pattern string, next http.Handler) http.Handler {
			return app.recoverPanic(app.instrument(pattern, app.timeout(next)))
		}
		noSession = func(pattern string, h http.HandlerFunc) {
			mux.Handle(pattern, shared(pattern, h))
		}
		session = func(pattern string, h http.HandlerFunc) {
			mux.Handle(pattern, shared(pattern, noCache(app.sessionManager.LoadAndSave(app.ensureUser(h)))))
		}
		mustAdmin = func(pattern string, h http.HandlerFunc) {
			mux.Handle(pattern, shared(pattern, noCache(app.mustAdmin(h))))
		}
	)

	noSession("GET /api/healthy", app.healthy)
	noSession("GET /api/test/timeout", app.testTimeout)
	noSession("GET /api/catalog", app.catalogGET)
	noSession("GET /api/stats", app.statsGET)

	session("GET /api/me", app.meGET)
	session("GET /api/protocols", app.protocolsGET)
	session("POST /api/workouts/generate", app.workoutGeneratePOST)
	session("GET /api/workouts/current", app.workoutCurrentGET)
	session("POST /api/workouts/{id}/complete", app.workoutCompletePOST)
	session("GET /api/progression", app.progressionGET)
	session("GET /api/quota", app.quotaGET)
	session("POST /api/chat", app.chatPOST)

	mustAdmin("POST /admin/users/{id}/tier", app.adminTierPOST)

	mux.Handle("GET /metrics", app.metrics.Handler())
	mux.Handle("/", shared("/", http.HandlerFunc(app.notFound)))

	return app.logAndTraceRequest(secureHeaders(mux))
}
