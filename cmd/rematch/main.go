package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/maya/rewear/internal/config"
	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/index"
	"github.com/maya/rewear/internal/logger"
	"github.com/maya/rewear/internal/repository"
	"github.com/maya/rewear/internal/service"
)

// rematch runs a full matching backfill: it rebuilds the similarity indexes
// from the database and re-evaluates every active alert against the whole
// embedding corpus. Useful after threshold policy changes, encoder model
// upgrades, or an index wipe.
func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "rewear-rematch",
	})
	logger.SetDefaultLogger(appLogger)

	alertID := flag.String("alert", "", "Re-evaluate only this alert ID")
	notify := flag.Bool("notify", false, "Run one notification dispatch cycle after matching")
	pageSize := flag.Int("page-size", 500, "Embedding page size for the index rebuild")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
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

	activity := service.NewActivityLogger(activityRepo, appLogger, &service.ActivityLoggerConfig{
		BufferSize: cfg.Activity.BufferSize,
	})
	defer activity.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		appLogger.Warn("Interrupted, stopping backfill")
		cancel()
	}()

	// A backfill always scores against exact brute-force indexes rebuilt from
	// the database, independent of the serving backend.
	memCfg := index.MemoryConfig{
		FlushInterval: cfg.Index.FlushInterval,
		FlushBatch:    cfg.Index.FlushBatch,
	}
	garmentIndex := index.NewMemory(memCfg)
	alertIndex := index.NewMemory(memCfg)
	defer garmentIndex.Close()
	defer alertIndex.Close()

	total := 0
	err = embeddingRepo.ListScoring(ctx, *pageSize, func(page []domain.GarmentEmbedding) error {
		for i := range page {
			if err := garmentIndex.Upsert(ctx, page[i].GarmentID, page[i].Vector); err != nil {
				return err
			}
			total++
		}
		return nil
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to rebuild garment index")
	}
	if err := garmentIndex.Flush(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to flush garment index")
	}
	appLogger.WithField(logger.FieldCount, total).Info("Garment index rebuilt")

	alerts, err := alertRepo.ListActive(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to list active alerts")
	}
	for i := range alerts {
		a := &alerts[i]
		vec := a.TextEmbedding
		if a.MatchMode == domain.MatchModeImage && len(a.ImageEmbedding) != 0 {
			vec = a.ImageEmbedding
		}
		if err := alertIndex.Upsert(ctx, a.ID, vec); err != nil {
			appLogger.WithError(err).WithField(logger.FieldAlertID, a.ID).Warn("Skipping alert in index rebuild")
		}
	}
	if err := alertIndex.Flush(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to flush alert index")
	}

	engine := service.NewMatchingEngine(
		alertRepo, garmentRepo, embeddingRepo, matchRepo,
		garmentIndex, alertIndex,
		activity, appLogger,
		&service.MatchingConfig{TopK: cfg.Matching.TopK},
	)

	targets := alerts
	if *alertID != "" {
		alert, err := alertRepo.GetByID(ctx, *alertID)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to load alert")
		}
		targets = []domain.SearchAlert{*alert}
	}

	accepted := 0
	for i := range targets {
		if ctx.Err() != nil {
			break
		}
		n, err := engine.RunAlertPass(ctx, targets[i].ID)
		if err != nil {
			appLogger.WithError(err).WithField(logger.FieldAlertID, targets[i].ID).Error("Alert pass failed")
			continue
		}
		accepted += n
	}
	appLogger.WithFields(logger.Fields{
		"alerts":           len(targets),
		"accepted_matches": accepted,
	}).Info("Backfill complete")

	if *notify && ctx.Err() == nil {
		sender := service.NewWebhookSender(&service.WebhookSenderConfig{
			URL:    cfg.Notify.WebhookURL,
			APIKey: cfg.Notify.APIKey,
		})
		dispatcher := service.NewDispatcher(
			alertRepo, matchRepo, garmentRepo, sender, activity, appLogger,
			&service.DispatcherConfig{
				DebounceWindow: cfg.Notify.DebounceWindow,
				MaxRetries:     cfg.Notify.MaxRetries,
				BaseBackoff:    cfg.Notify.BaseBackoff,
				MaxBackoff:     cfg.Notify.MaxBackoff,
			},
		)
		dispatcher.RunCycle(ctx)
		appLogger.Info("Dispatch cycle complete")
	}
}
