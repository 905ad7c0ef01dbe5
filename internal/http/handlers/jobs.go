package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

const maxJobListLimit = 100

// JobStatus returns one ledger record.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, domain.KindValidation, "job id required")
		return
	}

	job, err := a.Jobs.Get(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// JobsList returns recent jobs, newest first.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	if limit > maxJobListLimit {
		limit = maxJobListLimit
	}

	jobs, err := a.Jobs.ListRecent(r.Context(), limit)
	if err != nil {
		a.Log.Error().Err(err).Msg("failed to list jobs")
		a.error(w, http.StatusInternalServerError, domain.KindInternal, "failed to load jobs")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": jobs})
}
