package main

import (
	"net/http"

	"github.com/myrjola/struggle/internal/contexthelpers"
	"github.com/myrjola/struggle/internal/struggle"
)

func (app *application) progressionGET(w http.ResponseWriter, r *http.Request) {
	p, err := app.workoutService.Progress(r.Context())
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, p)
}

func (app *application) quotaGET(w http.ResponseWriter, r *http.Request) {
	q, err := app.workoutService.Quota(r.Context())
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, q)
}

func (app *application) protocolsGET(w http.ResponseWriter, r *http.Request) {
	protocols, err := app.workoutService.Protocols(r.Context())
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, protocols)
}

type catalogResponse struct {
	Exercises []struggle.Exercise `json:"exercises"`
	Packages  []struggle.Package  `json:"packages"`
}

func (app *application) catalogGET(w http.ResponseWriter, r *http.Request) {
	c := app.workoutService.Catalog()
	app.writeJSON(w, r, http.StatusOK, catalogResponse{Exercises: c.Exercises(), Packages: c.Packages()})
}

// statsGET returns global statistics for the fingerprint query parameter.
func (app *application) statsGET(w http.ResponseWriter, r *http.Request) {
	st, err := app.workoutService.GlobalStats(r.Context(), r.URL.Query().Get("fingerprint"))
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, st)
}

func (app *application) meGET(w http.ResponseWriter, r *http.Request) {
	u, err := app.workoutService.GetUser(r.Context(), contexthelpers.AuthenticatedUserID(r.Context()))
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, u)
}
