package main

import (
	"fmt"

	"hearing-transcripts-go/internal/aggregator"
	"hearing-transcripts-go/internal/api"
	"hearing-transcripts-go/internal/brief"
	"hearing-transcripts-go/internal/config"
	"hearing-transcripts-go/internal/diarization"
	"hearing-transcripts-go/internal/logger"
	"hearing-transcripts-go/internal/pipeline"
	"hearing-transcripts-go/internal/retry"
	"hearing-transcripts-go/internal/segment"
	"hearing-transcripts-go/internal/storage"
	"hearing-transcripts-go/internal/store"
	"hearing-transcripts-go/internal/transcription"
)

// app is everything a command needs, wired from one Config.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *store.Store
	blobs  *storage.Local
	runner *pipeline.Runner
	briefs *brief.Generator
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := storage.NewLocal(cfg.StorageDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Base:        cfg.RetryBase,
		Unit:        cfg.RetryUnit,
	}

	speech := transcription.NewOpenAIEngine(transcription.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.TranscribeModel,
		Timeout: cfg.TranscribeTimeout,
	})
	transcriber := transcription.NewClient(speech, policy, log.Component("transcription"))
	diarizer := diarization.NewClient(
		diarization.NewHTTPEngine(cfg.DiarizeURL, cfg.DiarizeToken, cfg.DiarizeTimeout),
		speech,
		policy,
		log.Component("diarization"),
	)

	media := segment.FFmpeg{FFmpegPath: cfg.FFmpegPath, FFprobePath: cfg.FFprobePath}
	seg := segment.New(st, blobs, media, cfg.ChunkWindow, log.Component("segmenter"))
	agg := aggregator.New(st, log.Component("aggregator"))
	machine := pipeline.NewMachine(st, transcriber, diarizer, agg, cfg.TranscribeLanguage, log.Component("machine"))
	runner := pipeline.NewRunner(seg, machine, st, cfg.Workers, log.Entry)

	briefs := brief.NewGenerator(brief.Config{
		GatewayURL: cfg.LLMGatewayURL,
		Model:      cfg.LLMModel,
		APIKey:     cfg.LLMAPIKey,
		Mock:       cfg.UseMockLLM,
	}, log.Entry)

	return &app{
		cfg:    cfg,
		log:    log,
		store:  st,
		blobs:  blobs,
		runner: runner,
		briefs: briefs,
	}, nil
}

func (a *app) handler() *api.Handler {
	return &api.Handler{
		Store:      a.store,
		Blobs:      a.blobs,
		Dispatcher: a.runner,
		Briefs:     a.briefs,
		Logger:     a.log,
		Language:   a.cfg.TranscribeLanguage,
	}
}

func (a *app) Close() error {
	a.runner.Stop()
	return a.store.Close()
}
