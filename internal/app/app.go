package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"PatentTriage/internal/classify"
	"PatentTriage/internal/config"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/extract"
	"PatentTriage/internal/infrastructure/airtable"
	"PatentTriage/internal/infrastructure/llm"
	"PatentTriage/internal/infrastructure/ml"
	"PatentTriage/internal/infrastructure/scheduler"
	"PatentTriage/internal/infrastructure/storage"
	"PatentTriage/internal/infrastructure/telegram"
	"PatentTriage/internal/logging"
	"PatentTriage/internal/ports"
	"PatentTriage/internal/server"
	"PatentTriage/internal/usecase"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *storage.SQLiteStore
	keyword    classify.Classifier
	classifier classify.Classifier
	ingestor   *usecase.Ingestor
	batch      *usecase.BatchProcessor
	syncer     *usecase.Syncer
	exporter   *usecase.Exporter
	records    ports.TrackerRecords
	scheduler  *usecase.Scheduler
}

// New opens the store and builds every use case from cfg.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	store, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	patterns := classify.NewPatternCache(cfg.Classifier.PatternCacheSize)
	keyword := classify.NewKeyword(patterns, baseLogger.With("component", "classifier.keyword"))
	classifier := buildClassifier(cfg, keyword, baseLogger)

	registry := extract.NewDefaultRegistry(cfg.Ingest.Columns, baseLogger.With("component", "extract"))
	ingestor := usecase.NewIngestor(usecase.IngestorDeps{
		Extractor:   extract.NewExtractor(registry, baseLogger.With("component", "extract")),
		Results:     store,
		Queue:       store,
		Jobs:        store,
		Version:     cfg.Classifier.Version,
		Concurrency: cfg.Ingest.Concurrency,
		Logger:      baseLogger.With("component", "ingest"),
	})

	batch := usecase.NewBatchProcessor(usecase.BatchDeps{
		Queue:        store,
		Classifier:   classifier,
		Rules:        cfg.Classifier.Rules,
		Version:      cfg.Classifier.Version,
		MinRelevance: cfg.Batch.MinRelevance,
		Logger:       baseLogger.With("component", "batch"),
	})

	tracker := buildTracker(cfg)
	records, _ := tracker.(ports.TrackerRecords)

	syncer := usecase.NewSyncer(usecase.SyncDeps{
		Sync:           store,
		Queue:          store,
		Tracker:        tracker,
		Notifier:       buildNotifier(cfg),
		PruneRemoteLow: cfg.Sync.PruneRemoteLow,
		Logger:         baseLogger.With("component", "sync"),
	})

	sched := usecase.NewScheduler(
		scheduler.NewTicker(cfg.Scheduler.Interval),
		batch, syncer,
		cfg.Batch.Size, cfg.Batch.MinRelevance,
		baseLogger.With("component", "scheduler"),
	)

	return &Application{
		cfg:        cfg,
		logger:     baseLogger,
		store:      store,
		keyword:    keyword,
		classifier: classifier,
		ingestor:   ingestor,
		batch:      batch,
		syncer:     syncer,
		exporter:   usecase.NewExporter(store, baseLogger.With("component", "export")),
		records:    records,
		scheduler:  sched,
	}, nil
}

func buildClassifier(cfg config.Config, keyword classify.Classifier, logger *slog.Logger) classify.Classifier {
	switch cfg.Classifier.Strategy {
	case config.StrategyChat:
		if cfg.ChatGPT.APIKey == "" {
			logger.Warn("chat classifier selected without API key, using keyword scorer")
			return keyword
		}
		client := llm.NewChatGPTClient(cfg.ChatGPT)
		return classify.WithRetry(llm.NewChatClassifier(client, client.Model(), cfg.ChatGPT.SystemPrompt), cfg.Classifier.Retry)
	case config.StrategyRemote:
		if cfg.ML.InferenceURL == "" {
			logger.Warn("remote classifier selected without inference URL, using keyword scorer")
			return keyword
		}
		return classify.WithRetry(ml.NewClient(cfg.ML.InferenceURL, cfg.ML.APIKey), cfg.Classifier.Retry)
	default:
		return keyword
	}
}

func buildTracker(cfg config.Config) ports.Tracker {
	client := airtable.NewClient(airtable.Config{
		BaseURL:       cfg.Airtable.BaseURL,
		APIKey:        cfg.Airtable.APIKey,
		BaseID:        cfg.Airtable.BaseID,
		TableName:     cfg.Airtable.TableName,
		RatePerSecond: cfg.Airtable.RatePerSecond,
	})
	if !client.Configured() {
		return nil
	}
	return client
}

func buildNotifier(cfg config.Config) ports.Notifier {
	notifier := telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	if !notifier.Configured() {
		return nil
	}
	return notifier
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}

// Ingest runs each path through the dedup gate.
func (a *Application) Ingest(ctx context.Context, paths []string) ([]domain.IngestReport, error) {
	return a.ingestor.IngestFiles(ctx, paths)
}

// Process drains one batch, or the whole queue when all is set. Zero values
// fall back to configuration.
func (a *Application) Process(ctx context.Context, limit int, minRelevance domain.Relevance, all bool) (domain.BatchResult, error) {
	if limit <= 0 {
		limit = a.cfg.Batch.Size
	}
	if all {
		return a.batch.ProcessAll(ctx, limit, minRelevance)
	}
	return a.batch.ProcessBatch(ctx, limit, minRelevance)
}

// Sync mirrors results for externalIDs, or all results when empty.
func (a *Application) Sync(ctx context.Context, externalIDs []string) (domain.SyncReport, error) {
	return a.syncer.Sync(ctx, externalIDs)
}

// Export writes matching results to w as CSV and returns the row count.
func (a *Application) Export(ctx context.Context, w io.Writer, filter ports.ResultFilter) (int, error) {
	return a.exporter.ExportCSV(ctx, w, filter)
}

// Skip marks pending items for externalIDs as skipped.
func (a *Application) Skip(ctx context.Context, externalIDs []string) (int, error) {
	return a.store.Skip(ctx, externalIDs)
}

// Serve runs the HTTP API and the background scheduler until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		if err := a.scheduler.Stop(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("scheduler stop", "error", err)
		}
	}()

	srv := server.NewServer(server.Deps{
		Ingestor:     a.ingestor,
		Batch:        a.batch,
		Syncer:       a.syncer,
		Exporter:     a.exporter,
		Results:      a.store,
		Queue:        a.store,
		Jobs:         a.store,
		Records:      a.records,
		Classifier:   a.classifier,
		Keyword:      a.keyword,
		Rules:        a.cfg.Classifier.Rules,
		BatchSize:    a.cfg.Batch.Size,
		MinRelevance: a.cfg.Batch.MinRelevance,
		Settings:     a.settings(),
		Logger:       a.logger.With("component", "http"),
	})
	return srv.Run(ctx, a.cfg.Server.Addr)
}

func (a *Application) settings() server.Settings {
	return server.Settings{
		Version:           Version,
		ClassifierID:      a.classifier.ID(),
		ClassifierVersion: a.cfg.Classifier.Version,
		OpenAIModel:       a.cfg.ChatGPT.Model,
		AirtableBaseID:    a.cfg.Airtable.BaseID,
		AirtableTable:     a.cfg.Airtable.TableName,
		BatchSize:         a.cfg.Batch.Size,
		MinRelevance:      string(a.cfg.Batch.MinRelevance),
	}
}
