package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/assemble"
	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/entities"
	"github.com/snarg/scribe-engine/internal/jobstore"
	"github.com/snarg/scribe-engine/internal/mqttclient"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	envFile := flag.String("env", "", "path to .env file")
	addr := flag.String("addr", "", "http listen address (overrides HTTP_ADDR)")
	logLevel := flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	dbURL := flag.String("db", "", "postgres url (overrides DATABASE_URL)")
	audioDir := flag.String("audio-dir", "", "chunk directory (overrides AUDIO_DIR)")
	flag.Parse()

	// Config
	cfg, err := config.Load(config.Overrides{
		EnvFile:     *envFile,
		HTTPAddr:    *addr,
		LogLevel:    *logLevel,
		DatabaseURL: *dbURL,
		AudioDir:    *audioDir,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("scribe-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job store
	retention := jobstore.Retention{
		Jobs:       cfg.JobRetention,
		FailedJobs: cfg.FailedJobRetention,
	}
	var store jobstore.Store
	var dbCheck api.Checker
	if cfg.DatabaseURL != "" {
		pg, err := jobstore.ConnectPostgres(ctx, cfg.DatabaseURL,
			retention, log.With().Str("component", "jobstore").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pg.Close()
		store = pg
		dbCheck = pg
	} else {
		log.Warn().Msg("no DATABASE_URL set, using in-memory job store")
		store = jobstore.NewMemoryStore(retention)
	}

	janitor := jobstore.NewJanitor(store, 1*time.Hour, log)
	janitor.Start()
	defer janitor.Stop()

	// Chunk storage
	audio, services, err := storage.New(cfg.S3, cfg.AudioDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init chunk storage")
	}
	for _, svc := range services {
		svc.Start()
		defer svc.Stop()
	}
	if tiered, ok := audio.(*storage.TieredStore); ok {
		uploader := storage.NewAsyncUploader(tiered.S3Store(), 256, log)
		uploader.Start(2)
		defer uploader.Stop()
		audio = storage.NewAsyncSaveStore(tiered, uploader)
	}

	// MQTT (optional)
	var mqtt *mqttclient.Client
	var events pipeline.Events
	var mqttCheck api.Connected
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		events = mqtt
		mqttCheck = mqtt
	}

	// Transcription
	provider := transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperTimeout)
	orchestrator := transcribe.NewOrchestrator(provider, audio, transcribe.Options{
		BatchSize:       cfg.BatchSize,
		MaxRetries:      cfg.MaxRetries,
		ProgressCeiling: cfg.ProgressCeiling,
		Language:        cfg.Language,
		RequestTimeout:  cfg.WhisperTimeout,
	}, log)

	// Entity sources: the dictionary is always on; remote sources join when
	// configured.
	sources := []entities.Source{entities.NewDictionaryMatcher()}
	if cfg.NERURL != "" {
		sources = append(sources, entities.NewNERClient(cfg.NERURL, cfg.NERToken, cfg.NERTimeout))
	}
	if cfg.OpenAIAPIKey != "" {
		sources = append(sources, entities.NewLLMExtractor(cfg.OpenAIAPIKey, cfg.OpenAIModel))
	}
	if len(sources) < 2 {
		log.Warn().Msg("only the dictionary entity source is configured, extraction will be shallow")
	}
	extractor := entities.NewExtractor(sources, entities.Options{}, log)

	runner := pipeline.NewRunner(store, orchestrator, extractor, assemble.Options{}, events, log)

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.ServerDeps{
		Runner:    runner,
		Audio:     audio,
		DB:        dbCheck,
		MQTT:      mqttCheck,
		RunCtx:    ctx,
		Version:   version,
		StartTime: startTime,
	}, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("scribe-engine stopped")
}
