package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"restyle-studio/internal/app"
	"restyle-studio/internal/config"
	"restyle-studio/internal/logging"
	"restyle-studio/internal/pipeline"
	"restyle-studio/internal/session"
	"restyle-studio/internal/web"
)

//go:embed static/*
var staticFS embed.FS

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init failed")
	}

	sessions := session.NewStore(session.Options{
		TTL:    cfg.SessionTTL,
		Logger: &logger,
		New: func(string) *pipeline.Orchestrator {
			return a.NewPipeline(nil)
		},
	})
	go sessions.Run(ctx, time.Minute)

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	s := web.New(web.Options{
		Sessions:       sessions,
		NewPipeline:    func() *pipeline.Orchestrator { return a.NewPipeline(nil) },
		Logger:         &logger,
		Static:         staticSub,
		BaseContext:    ctx,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("addr", cfg.WebAddr).Msg("web started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server error")
	}
	logger.Info().Msg("web stopped")
}
