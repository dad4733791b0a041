package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/booking-scheduler/internal/config"
	"github.com/example/booking-scheduler/internal/logging"
	"github.com/example/booking-scheduler/internal/persistence/sqlite"
	"github.com/example/booking-scheduler/internal/provider"
	googleprovider "github.com/example/booking-scheduler/internal/provider/google"
	microsoftprovider "github.com/example/booking-scheduler/internal/provider/microsoft"
	"github.com/example/booking-scheduler/internal/syncer"
	"github.com/example/booking-scheduler/internal/token"
	"github.com/example/booking-scheduler/internal/writeback"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	now := time.Now

	doer := provider.NewRateLimitedDoer(http.DefaultClient, cfg.ProviderRateLimit, cfg.ProviderRateBurst)
	drivers := buildDrivers(cfg, doer)
	if len(drivers) == 0 {
		logger.Warn("no calendar providers configured; writebacks will not progress")
	}

	worker := syncer.New(syncer.Params{
		Bookings:         storage,
		Connections:      storage,
		Writebacks:       storage,
		Drivers:          drivers,
		Tokens:           token.NewCachedResolver(time.Minute, now),
		EncryptionSecret: cfg.EncryptionSecret,
		Now:              now,
		ClaimTTL:         cfg.ClaimTTL,
		BatchSize:        cfg.SweepBatchSize,
	})

	sweepCtx := logging.ContextWithLogger(ctx, logger)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		processed, err := worker.Sweep(sweepCtx)
		if err != nil {
			logger.Error("writeback sweep failed", "error", err)
			return
		}
		if processed > 0 {
			logger.Info("writeback sweep completed", "processed", processed)
		}
	}); err != nil {
		logger.Error("failed to register sweep schedule", "schedule", cfg.SweepSchedule, "error", err)
		os.Exit(1)
	}

	scheduler.Start()
	logger.Info("booking scheduler running", "sweep_schedule", cfg.SweepSchedule)

	<-ctx.Done()
	logger.Info("shutting down")
	<-scheduler.Stop().Done()
}

// buildDrivers registers one driver per provider with credentials configured.
func buildDrivers(cfg config.Config, doer provider.Doer) map[string]syncer.Driver {
	drivers := make(map[string]syncer.Driver)

	if cfg.GoogleClientID != "" {
		client := googleprovider.NewClient(doer, cfg.GoogleClientID, cfg.GoogleClientSecret)
		drivers["google"] = syncer.Driver{
			Refresher: client,
			Busy:      client,
			Events: func(accessToken string) writeback.EventClient {
				return client.WithAccessToken(accessToken)
			},
		}
	}

	if cfg.MicrosoftClientID != "" {
		client := microsoftprovider.NewClient(doer, cfg.MicrosoftClientID, cfg.MicrosoftClientSecret)
		drivers["microsoft"] = syncer.Driver{
			Refresher: client,
			Busy:      client,
			Events: func(accessToken string) writeback.EventClient {
				return client.WithAccessToken(accessToken)
			},
		}
	}

	return drivers
}
