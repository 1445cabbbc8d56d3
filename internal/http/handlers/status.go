package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Status reports a job's state. Unknown identifiers are a normal 200
// response with status "unknown".
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	view, err := a.Jobs.Status(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, view)
}
