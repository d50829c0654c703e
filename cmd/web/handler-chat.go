package main

import (
	"net/http"
)

type chatRequest struct {
	Message string `json:"message"`
}

func (app *application) chatPOST(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.handleError(w, r, err)
		return
	}
	reply, err := app.workoutService.Chat(r.Context(), req.Message)
	if err != nil {
		app.handleError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, reply)
}
