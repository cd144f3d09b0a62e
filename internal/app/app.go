// Package app wires the configured Gemini backend into pipeline factories
// shared by every binary.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"restyle-studio/internal/config"
	"restyle-studio/internal/fusion"
	"restyle-studio/internal/gemini"
	"restyle-studio/internal/httpclient"
	"restyle-studio/internal/pipeline"
	"restyle-studio/internal/style"
)

type App struct {
	Config    config.Config
	Logger    zerolog.Logger
	Extractor *style.Extractor
	Fuser     *fusion.Fuser
}

func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	opts := cfg.GeminiOptions()
	opts.HTTPClient = httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})
	opts.Logger = &logger

	gen, err := gemini.NewGenerator(ctx, cfg.GeminiBackend, opts)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	logger.Info().
		Str("backend", cfg.GeminiBackend).
		Str("style_model", cfg.StyleModel).
		Str("image_model", cfg.ImageModel).
		Msg("gemini configured")

	return &App{
		Config: cfg,
		Logger: logger,
		Extractor: style.New(style.Options{
			Generator: gen,
			Model:     cfg.StyleModel,
			Logger:    &logger,
		}),
		Fuser: fusion.New(fusion.Options{
			Generator: gen,
			Model:     cfg.ImageModel,
			Logger:    &logger,
		}),
	}, nil
}

// NewPipeline returns a fresh pipeline. onChange may be nil.
func (a *App) NewPipeline(onChange func(pipeline.State)) *pipeline.Orchestrator {
	return pipeline.New(pipeline.Options{
		Extractor:  a.Extractor,
		Fuser:      a.Fuser,
		Logger:     &a.Logger,
		RunTimeout: a.Config.RequestTimeout,
		OnChange:   onChange,
	})
}
