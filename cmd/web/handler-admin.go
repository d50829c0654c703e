package main

import (
	"net/http"

	"github.com/myrjola/struggle/internal/progression"
)

type tierRequest struct {
	Tier progression.Tier `json:"tier"`
}

func (app *application) adminTierPOST(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		app.notFound(w, r)
		return
	}
	var req tierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.handleError(w, r, err)
		return
	}
	if err := app.workoutService.SetTier(r.Context(), id, req.Tier); err != nil {
		app.handleError(w, r, err)
		return
	}
	u, err := app.workoutService.GetUser(r.Context(), id)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, u)
}
