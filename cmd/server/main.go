package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mapl92/paperless-alternative-sub001/internal/config"
	"github.com/Mapl92/paperless-alternative-sub001/internal/pdfops"
	"github.com/Mapl92/paperless-alternative-sub001/internal/pipeline"
	"github.com/Mapl92/paperless-alternative-sub001/internal/relations"
	"github.com/Mapl92/paperless-alternative-sub001/internal/rules"
	"github.com/Mapl92/paperless-alternative-sub001/internal/server"
	"github.com/Mapl92/paperless-alternative-sub001/internal/settings"
	"github.com/Mapl92/paperless-alternative-sub001/internal/sign"
	"github.com/Mapl92/paperless-alternative-sub001/internal/util"
	"github.com/Mapl92/paperless-alternative-sub001/internal/watch"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/ai"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/queue"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/storage"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel)

	st, err := buildStore(cfg)
	if err != nil {
		fatal("failed to init store", err)
	}
	objects, err := buildObjectStore(cfg)
	if err != nil {
		fatal("failed to init object storage", err)
	}

	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		fatal("failed to init job queue", err)
	}

	extractor, embedder := buildAIClients(cfg)
	cache := settings.NewCache(st)
	engine := rules.NewEngine(st, jobs, cfg.QueueConcurrency)
	raster := pdfops.NewRasterizer(cfg.RasterCommand, time.Duration(cfg.RasterTimeoutSeconds)*time.Second)

	pipe := pipeline.New(pipeline.Options{
		Store:     st,
		Objects:   objects,
		Extractor: extractor,
		Embedder:  embedder,
		Raster:    raster,
		Settings:  cache,
		Rules:     engine,
		Jobs:      jobs,
		DPI:       cfg.RasterDPI,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs.Start(ctx, cfg.QueueConcurrency, func(ctx context.Context, job queue.Job) error {
		switch job.Kind {
		case queue.KindProcessDocument:
			return pipe.Process(ctx, job.DocumentID)
		case queue.KindApplyRules:
			_, err := engine.RunApplyAll(ctx, job.ID)
			return err
		default:
			slog.Warn("unknown job kind", "jobId", job.ID, "kind", job.Kind)
			return nil
		}
	})

	if cfg.ConsumeDir != "" {
		watcher := watch.NewFolderWatcher(cfg.ConsumeDir, time.Duration(cfg.WatchIntervalSeconds)*time.Second, pipe, st)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("folder watcher stopped", "err", err)
			}
		}()
	}
	if cfg.MailEnabled {
		source := watch.NewIMAPSource(cfg.MailAddr, cfg.MailUsername, cfg.MailPassword, cfg.MailFolder)
		watcher := watch.NewMailboxWatcher(source, time.Duration(cfg.MailPollIntervalSeconds)*time.Second, pipe, st)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("mailbox watcher stopped", "err", err)
			}
		}()
	}

	httpServer := server.New(server.Config{
		Store:     st,
		Pipeline:  pipe,
		Rules:     engine,
		Relations: relations.NewSuggester(st, cache),
		Sign:      sign.NewService(st, objects, pdfops.NewCompositor(), raster),
		Jobs:      jobs,
		Settings:  cache,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("intake server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func buildStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("no databaseURL configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
}

func buildObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint != "" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewFileStore(cfg.StorageDir)
}

func buildAIClients(cfg config.FileConfig) (ai.Extractor, ai.Embedder) {
	timeout := 120 * time.Second
	switch cfg.AIProvider {
	case "openai":
		client := ai.NewOpenAICompatClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, cfg.AIEmbedModel, cfg.EmbeddingDim, timeout)
		return client, client
	default:
		client := ai.NewOllamaClient(cfg.AIBaseURL, cfg.AIModel, cfg.AIEmbedModel, cfg.EmbeddingDim, timeout)
		return client, client
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
