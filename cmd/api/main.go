package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maya/rewear/internal/api"
	"github.com/maya/rewear/internal/api/middleware"
	"github.com/maya/rewear/internal/config"
	"github.com/maya/rewear/internal/index"
	"github.com/maya/rewear/internal/logger"
	"github.com/maya/rewear/internal/repository"
	"github.com/maya/rewear/internal/service"
	"github.com/maya/rewear/internal/storage"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH overrides the default ./configs/config.yaml lookup.
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	garmentRepo := repository.NewGarmentRepository(db)
	embeddingRepo := repository.NewEmbeddingRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	garmentIndex, alertIndex, err := buildIndexes(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize similarity indexes")
	}
	defer garmentIndex.Close()
	defer alertIndex.Close()

	objectStorage, err := storage.NewStorage(&storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize object storage")
	}

	activity := service.NewActivityLogger(activityRepo, appLogger, &service.ActivityLoggerConfig{
		BufferSize: cfg.Activity.BufferSize,
	})
	defer activity.Close()

	engine := service.NewMatchingEngine(
		alertRepo, garmentRepo, embeddingRepo, matchRepo,
		garmentIndex, alertIndex,
		activity, appLogger,
		&service.MatchingConfig{
			Workers:   cfg.Matching.Workers,
			TopK:      cfg.Matching.TopK,
			QueueSize: cfg.Matching.QueueSize,
		},
	)
	engine.Start(ctx)

	encoder := service.NewClipEncoder(&service.ClipEncoderConfig{
		BaseURL:      cfg.Encoder.BaseURL,
		APIKey:       cfg.Encoder.APIKey,
		ModelVersion: cfg.Encoder.ModelVersion,
		Dimensions:   cfg.Encoder.Dimensions,
	})

	embeddingService := service.NewEmbeddingService(embeddingRepo, garmentIndex, engine, activity, appLogger)
	alertService := service.NewAlertService(alertRepo, encoder, objectStorage, alertIndex, engine, activity, appLogger)

	sender := service.NewWebhookSender(&service.WebhookSenderConfig{
		URL:    cfg.Notify.WebhookURL,
		APIKey: cfg.Notify.APIKey,
	})
	dispatcher := service.NewDispatcher(
		alertRepo, matchRepo, garmentRepo, sender, activity, appLogger,
		&service.DispatcherConfig{
			DebounceWindow: cfg.Notify.DebounceWindow,
			CycleInterval:  cfg.Notify.CycleInterval,
			MaxRetries:     cfg.Notify.MaxRetries,
			BaseBackoff:    cfg.Notify.BaseBackoff,
			MaxBackoff:     cfg.Notify.MaxBackoff,
		},
	)
	go dispatcher.Run(ctx)

	router := api.SetupRouter(&api.Deps{
		Embeddings:   embeddingService,
		Alerts:       alertService,
		Activity:     activity,
		Garments:     garmentRepo,
		Matches:      matchRepo,
		ActivityRepo: activityRepo,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
	}, cfg.Server.Mode)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	// Stop workers and the dispatcher, then let deferred closes flush the
	// activity buffer and the indexes.
	cancel()
	engine.Wait()

	appLogger.Info("Server exited")
}

// buildIndexes creates the garment and alert similarity indexes for the
// configured backend. Qdrant gets one collection per corpus.
func buildIndexes(ctx context.Context, cfg *config.Config) (index.Index, index.Index, error) {
	if cfg.Index.Backend != "qdrant" {
		mem := index.MemoryConfig{
			FlushInterval: cfg.Index.FlushInterval,
			FlushBatch:    cfg.Index.FlushBatch,
		}
		return index.NewMemory(mem), index.NewMemory(mem), nil
	}

	garmentIndex, err := index.NewQdrant(&index.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
	})
	if err != nil {
		return nil, nil, err
	}
	alertIndex, err := index.NewQdrant(&index.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection + "_alerts",
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
	})
	if err != nil {
		garmentIndex.Close()
		return nil, nil, err
	}

	if err := garmentIndex.EnsureCollection(ctx); err != nil {
		return nil, nil, err
	}
	if err := alertIndex.EnsureCollection(ctx); err != nil {
		return nil, nil, err
	}
	return garmentIndex, alertIndex, nil
}
