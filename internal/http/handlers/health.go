package handlers

import (
	"net/http"
)

// Health reports readiness: 503 until the model adapter finishes loading.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if !a.Engine.Ready() {
		a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "loading", "service": "lipsync"})
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "service": "lipsync"})
}
