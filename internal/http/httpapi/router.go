package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter assembles the HTTP surface. Per-IP rate limiting is optional and
// sits in front of the synthesis admission gate.
func NewRouter(app *handlers.App, log infra.Logger, ratePerMin int) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		middleware.RequestID,
		middleware.Logger(log),
		chimw.Recoverer,
	)
	if ratePerMin > 0 {
		r.Use(middleware.RateLimit(ratePerMin, time.Minute))
	}

	r.Get("/healthz", app.Health)
	r.Post("/synthesize", app.Synthesize)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", app.JobsList)
		r.Get("/{id}", app.JobStatus)
	})

	return r
}
