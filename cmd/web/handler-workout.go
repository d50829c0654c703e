package main

import (
	"net/http"

	"github.com/myrjola/struggle/internal/workout"
)

type generateRequest struct {
	Protocol string `json:"protocol"`
	Package  string `json:"package"`
	Legacy   bool   `json:"legacy"`
}

func (app *application) workoutGeneratePOST(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.handleError(w, r, err)
		return
	}
	cw, err := app.workoutService.Generate(r.Context(), workout.GenerateRequest{
		ProtocolID: req.Protocol,
		PackageID:  req.Package,
		Legacy:     req.Legacy,
	})
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusCreated, cw)
}

func (app *application) workoutCurrentGET(w http.ResponseWriter, r *http.Request) {
	cw, err := app.workoutService.Current(r.Context())
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, cw)
}

type completeRequest struct {
	ActualSeconds float64 `json:"actual_seconds"`
	Feeling       string  `json:"feeling"`
}

func (app *application) workoutCompletePOST(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.handleError(w, r, err)
		return
	}
	c, err := app.workoutService.Complete(r.Context(), r.PathValue("id"), workout.CompleteRequest{
		ActualSeconds: req.ActualSeconds,
		Feeling:       req.Feeling,
	})
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, c)
}
