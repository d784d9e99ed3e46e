package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"lehengaTryOn/internal/catalog"
	"lehengaTryOn/internal/config"
	"lehengaTryOn/internal/events"
	"lehengaTryOn/internal/llm"
	"lehengaTryOn/internal/logging"
	"lehengaTryOn/internal/prompts"
	"lehengaTryOn/internal/server"
	"lehengaTryOn/internal/tryon"
	"lehengaTryOn/internal/vision"
)

const generativeLanguageScope = "https://www.googleapis.com/auth/generative-language"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("development")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.AppEnv)

	ctx := context.Background()

	template, err := prompts.LoadInstructionTemplate(cfg.Tryon.TemplatePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load instruction template")
	}

	selection, err := selectModels(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("model selection failed")
	}
	logger.Info().Str("text_model", selection.TextModel).Str("image_model", selection.ImageModel).Msg("models selected")

	tokenSource, err := textTokenSource(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load service account")
	}
	textClient := llm.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.BaseURL, nil, tokenSource)

	images, err := imageGenerator(ctx, cfg, selection)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init image generator")
	}
	if images == nil {
		logger.Warn().Msg("no image model available; requests will stop after the instruction")
	} else {
		selection.ImageModel = images.Model()
	}

	broker := events.NewBroker()
	pipeline := &tryon.Pipeline{
		Text:           textClient,
		TextModel:      selection.TextModel,
		Images:         images,
		Template:       template,
		Reattach:       cfg.Tryon.ReattachReferences,
		TextTimeout:    cfg.Tryon.TextTimeout,
		ImageTimeout:   cfg.Tryon.ImageTimeout,
		Filename:       cfg.Tryon.OutputFilename,
		MaxUploadBytes: cfg.Tryon.MaxUploadBytes,
		PreviewEdge:    1024,
		Observer:       tryon.BrokerObserver(broker),
		Logger:         logger,
	}

	handler := tryon.Handler{
		Pipeline:  pipeline,
		Selection: selection,
		Events:    broker,
		Logger:    logger,
	}
	srv := server.New(cfg, handler, logger)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownChan
		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func selectModels(ctx context.Context, cfg *config.Config) (catalog.Selection, error) {
	pins := catalog.Pins{
		TextModel:     cfg.Gemini.TextModel,
		ImageModel:    cfg.Gemini.ImageModel,
		ImageDisabled: cfg.SkipImageDiscovery(),
	}
	listCtx, cancel := context.WithTimeout(ctx, cfg.Gemini.CatalogTimeout)
	defer cancel()

	var lister catalog.Lister
	if pins.TextModel == "" || (!pins.ImageDisabled && pins.ImageModel == "") {
		l, err := catalog.NewGenAILister(listCtx, cfg.Gemini.APIKey)
		if err != nil {
			return catalog.Selection{}, err
		}
		lister = l
	}
	sel, err := catalog.Discover(listCtx, lister, pins)
	if err != nil {
		return catalog.Selection{}, &config.ConfigurationError{Key: "TEXT_MODEL", Reason: err.Error()}
	}
	return sel, nil
}

func imageGenerator(ctx context.Context, cfg *config.Config, sel catalog.Selection) (vision.ImageGenerator, error) {
	if cfg.ImageDisabled() {
		return nil, nil
	}
	if cfg.Gemini.ImageBackend == config.BackendImagen {
		return vision.NewVertexImagen(vision.VertexImagenConfig{
			ProjectID:          cfg.Vertex.ProjectID,
			Location:           cfg.Vertex.Location,
			Model:              cfg.Vertex.Model,
			APIKey:             cfg.Gemini.APIKey,
			ServiceAccountJSON: cfg.Gemini.ServiceAccountJSON,
		}), nil
	}
	if !sel.ImageAvailable() {
		return nil, nil
	}
	gen, err := vision.NewGeminiImageGenerator(ctx, vision.GeminiImageConfig{
		APIKey: cfg.Gemini.APIKey,
		Model:  sel.ImageModel,
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func textTokenSource(ctx context.Context, cfg *config.Config) (oauth2.TokenSource, error) {
	if cfg.Gemini.ServiceAccountJSON == "" {
		return nil, nil
	}
	creds, err := google.CredentialsFromJSON(ctx, []byte(cfg.Gemini.ServiceAccountJSON), generativeLanguageScope)
	if err != nil {
		return nil, err
	}
	return creds.TokenSource, nil
}
