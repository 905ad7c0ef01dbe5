package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/store"
)

// Generator is the orchestrator surface the handlers need.
type Generator interface {
	Synthesize(ctx context.Context, req *domain.GenerationRequest) (*domain.SynthesisResult, error)
}

// ReadyChecker reports whether the model adapter finished loading.
type ReadyChecker interface {
	Ready() bool
}

// App bundles handler dependencies.
type App struct {
	Log           infra.Logger
	Generator     Generator
	Jobs          *store.JobRepo
	Engine        ReadyChecker
	MaxAudioBytes int64
}

// NewApp constructs the handler container.
func NewApp(log infra.Logger, gen Generator, jobs *store.JobRepo, engine ReadyChecker, maxAudioBytes int64) *App {
	return &App{
		Log:           log,
		Generator:     gen,
		Jobs:          jobs,
		Engine:        engine,
		MaxAudioBytes: maxAudioBytes,
	}
}

type errorBody struct {
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind domain.Kind, message string) {
	a.json(w, code, errorBody{Kind: kind, Message: message})
}

// fail maps a classified error onto the wire format.
func (a *App) fail(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	a.error(w, kind.HTTPStatus(), kind, domain.MessageOf(err))
}
