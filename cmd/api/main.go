package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/engine"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/orchestrator"
	"server/internal/store"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Startup validation. Everything below must hold before the port binds;
	// a failure here exits non-zero and the service never accepts traffic.
	muxer, err := store.NewMuxer(cfg.FFmpegPath, cfg.FFprobePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("encoding tools unavailable")
	}

	st, err := store.New(cfg.TempDir, cfg.AvatarVideoPath, cfg.AvatarDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("asset store setup failed")
	}

	db, err := infra.NewJobsDB(cfg.JobsDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("job ledger setup failed")
	}
	jobs := store.NewJobRepo(db)

	eng := engine.NewMuseTalk(engine.Config{
		RepoDir:   cfg.MuseTalkPath,
		PythonBin: cfg.PythonBin,
		FFmpegDir: muxer.FFmpegDir(),
	}, logger)
	if err := eng.CheckInstall(); err != nil {
		logger.Fatal().Err(err).Msg("model install check failed")
	}

	orc := orchestrator.New(eng, st, muxer, jobs, logger, orchestrator.Options{
		MaxInflight:    cfg.MaxInflight,
		QueueDepth:     cfg.QueueDepth,
		QueueWait:      cfg.QueueWait,
		RequestTimeout: cfg.RequestTimeout,
		JobRetention:   cfg.JobRetention,
	})

	app := handlers.NewApp(logger, orc, jobs, eng, cfg.MaxAudioBytes)
	router := httpapi.NewRouter(app, logger, cfg.RateLimitPerMin)
	server := infra.NewHTTPServer(cfg, router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Warm the model runtime while the server answers 503 on /healthz. A
	// load failure means the process can never serve, so it exits.
	go func() {
		if err := eng.Load(ctx); err != nil {
			logger.Fatal().Err(err).Msg("model load failed")
		}
		logger.Info().Msg("service ready")
	}()

	go orc.RunJanitor(ctx, time.Hour)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
