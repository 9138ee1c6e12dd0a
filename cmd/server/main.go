package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"loanlens/internal/config"
	"loanlens/internal/network"
	"loanlens/internal/notify"
	"loanlens/internal/processor"
	"loanlens/internal/repository"
	"loanlens/internal/server"
	"loanlens/internal/service"
	"loanlens/internal/summarizer"
	"loanlens/internal/transcriber"
	"loanlens/internal/transcript"
)

func main() {
	cfgPath := flag.String("config", "", "path to config.yml (default $LOANLENS_CONFIG or configs/config.yml)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.Logging.Mode)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// Database connection
	db, err := repository.Open(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.MigrateDB(db, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	callRepo := repository.NewCallRepository(db, logger)
	indexRepo := repository.NewLoanIndexRepository(db, logger)
	feedbackRepo := repository.NewFeedbackRepository(db, logger)
	store := transcript.NewStore(cfg.Transcripts.Dir, cfg.Transcripts.LoadConcurrency, logger)

	deps := service.Deps{
		Calls:       callRepo,
		Index:       indexRepo,
		Feedback:    feedbackRepo,
		Transcripts: store,
		Processors: network.Processors{
			Prefixes: cfg.Network.ProcessorPrefixes,
			Numbers:  cfg.Network.ProcessorNumbers,
		},
		QueryTimeout: cfg.QueryTimeout(),
		Logger:       logger,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Summarizer is optional; without it sentiment and summary stay empty.
	if cfg.Summarizer.Enabled {
		switch cfg.Summarizer.Provider {
		case "gemini":
			gc, err := summarizer.NewGeminiClient(ctx, summarizer.GeminiConfig{
				APIKey:    cfg.Summarizer.GeminiAPIKey,
				ModelName: cfg.Summarizer.GeminiModel,
			}, logger)
			if err != nil {
				logger.Fatal("Failed to initialize Gemini summarizer", zap.Error(err))
			}
			defer gc.Close()
			deps.Summarizer = gc
		default:
			deps.Summarizer = summarizer.NewClient(cfg.Summarizer.URL, logger)
			logger.Info("Summarizer enabled", zap.String("url", cfg.Summarizer.URL))
		}
	}

	if cfg.Notify.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID, logger)
		switch {
		case err != nil:
			logger.Warn("Failed to initialize Telegram notifier, continuing without it", zap.Error(err))
		case tg != nil:
			deps.Notifier = tg
		}
	}

	loans := service.NewLoanService(deps)

	var stt processor.Transcriber
	if cfg.Transcriber.URL != "" {
		stt = transcriber.NewClient(cfg.Transcriber.URL, cfg.TranscriberTimeout(), logger)
	} else {
		logger.Info("Transcriber URL is empty, only existing transcripts will be indexed")
	}

	proc := processor.NewProcessor(callRepo, stt, store, loans, logger, cfg.PollInterval(), cfg.Processor.BatchSize, cfg.Processor.MaxAttempts)
	go proc.Run(ctx)

	if cfg.Processor.Watch {
		watcher := processor.NewWatcher(store.Dir(), proc, logger)
		go func() {
			if err := watcher.Backfill(ctx); err != nil {
				logger.Error("Transcript backfill failed", zap.Error(err))
			}
			if err := watcher.Start(ctx); err != nil {
				logger.Error("Transcript watcher stopped", zap.Error(err))
			}
		}()
	}

	srv := server.NewServer(loans, logger)
	if err := srv.Run(ctx, cfg.Server.Port); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}

	logger.Info("Application stopped.")
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
