// Package main is the entry point for the setpulse market data service.
// It refreshes Stock Exchange of Thailand dashboard datasets on a schedule,
// persists them to SQLite, and serves them with live refresh progress over
// HTTP, SSE and WebSocket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/config"
	"github.com/prasertk/setpulse/internal/database"
	"github.com/prasertk/setpulse/internal/domain"
	"github.com/prasertk/setpulse/internal/events"
	"github.com/prasertk/setpulse/internal/refresh"
	"github.com/prasertk/setpulse/internal/reliability"
	"github.com/prasertk/setpulse/internal/server"
	"github.com/prasertk/setpulse/internal/source"
	"github.com/prasertk/setpulse/internal/store"
	"github.com/prasertk/setpulse/pkg/logger"
)

// maintenanceSchedule runs after the last trading session of the day and
// well before the 10:30 morning refresh.
const maintenanceSchedule = "30 1 * * *"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting setpulse")

	db, err := database.New(database.Config{
		Path: cfg.DatabasePath(),
		Name: "setpulse",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	adapter := store.NewAdapter(db.Conn(), log)
	freshness := store.NewFreshnessRepository(db.Conn(), log)
	broadcaster := events.NewBroadcaster(log)
	journal := refresh.NewJournal(cfg.JournalPath(), log)

	jobs := buildJobs(cfg, log)
	if len(jobs) == 0 {
		log.Fatal().Msg("No datasets enabled, nothing to refresh")
	}

	orch := refresh.NewOrchestrator(
		jobs,
		refresh.NewRunner(log),
		adapter,
		freshness,
		refresh.NewCompleteness(cfg.Datasets),
		broadcaster,
		journal,
		cfg.Retention,
		log,
	)

	sched := refresh.NewScheduler(orch, log)
	if err := sched.Register(cfg.RefreshInterval, cfg.ScheduledTimes); err != nil {
		log.Fatal().Err(err).Msg("Failed to register refresh schedules")
	}

	// Nightly maintenance: integrity check, WAL checkpoint, disk check,
	// and an S3 snapshot when backups are configured.
	var backup *reliability.BackupService
	if cfg.Backup != nil && cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		backup = reliability.NewBackupService(db, s3Client, cfg.DataDir, cfg.Backup.RetainCount, log)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("S3 backups enabled")
	}
	maintenance := reliability.NewMaintenanceJob(db, backup, cfg.DataDir, log)
	if err := sched.RegisterNightly(maintenanceSchedule, "maintenance", func() {
		if err := maintenance.Run(context.Background()); err != nil {
			log.Error().Err(err).Msg("Maintenance failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}

	srv := server.New(server.Config{
		Log:          log,
		DB:           db,
		Config:       cfg,
		Orchestrator: orch,
		Broadcaster:  broadcaster,
		Freshness:    freshness,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	sched.Start()

	// Cold starts serve data immediately instead of waiting for the first
	// cron fire.
	startupCtx, startupCancel := context.WithCancel(context.Background())
	defer startupCancel()
	go sched.StartupRefresh(startupCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	startupCancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
}

// buildJobs constructs one fetch job per enabled dataset. The scraped pages
// share an HTTP client; the spreadsheet exports go through the extractor
// sidecar.
func buildJobs(cfg *config.Config, log zerolog.Logger) []source.Job {
	httpClient := &http.Client{Timeout: 2 * time.Minute}
	extractor := source.NewExtractorClient(cfg.ExtractorURL, log)

	var jobs []source.Job
	for _, ds := range domain.AllDatasets() {
		dc, ok := cfg.Datasets[ds]
		if !ok || !dc.Enabled {
			log.Warn().Str("dataset", string(ds)).Msg("Dataset disabled, skipping")
			continue
		}

		switch ds {
		case domain.DatasetIndex:
			jobs = append(jobs, source.NewIndexJob(httpClient, cfg.MarketProxyURL, dc.Timeout, log))
		case domain.DatasetSectors:
			jobs = append(jobs, source.NewSectorJob(httpClient, cfg.MarketProxyURL, dc.Timeout, log))
		case domain.DatasetInvestorFlow:
			jobs = append(jobs, source.NewInvestorFlowJob(httpClient, cfg.MarketProxyURL, dc.Timeout, log))
		case domain.DatasetNVDR:
			jobs = append(jobs, source.NewNVDRJob(extractor, dc.Timeout, log))
		case domain.DatasetShortSales:
			jobs = append(jobs, source.NewShortSalesJob(extractor, dc.Timeout, log))
		}
	}
	return jobs
}
