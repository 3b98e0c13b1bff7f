// Package main is the entry point for the greenfolio allocation server.
// It serves the optimizer API, records runs in SQLite and schedules
// retention and backup jobs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/greenfolio/internal/config"
	"github.com/aristath/greenfolio/internal/database"
	"github.com/aristath/greenfolio/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/greenfolio/internal/modules/optimization/handlers"
	"github.com/aristath/greenfolio/internal/modules/runs"
	"github.com/aristath/greenfolio/internal/reliability"
	"github.com/aristath/greenfolio/internal/scheduler"
	"github.com/aristath/greenfolio/internal/server"
	"github.com/aristath/greenfolio/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting greenfolio")

	runsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "runs.db"),
		Profile: cfg.RunsDBProfile,
		Name:    "runs",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open runs database")
	}
	defer runsDB.Close()

	if err := runsDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate runs database")
	}

	runRepo := runs.NewRepository(runsDB.Conn(), log)
	service := optimization.NewOptimizerService(cfg.ServiceConfig(), log)
	optimizer := optimizationhandlers.NewHandler(service, runRepo, log).WithDefaultScale(cfg.ESGScale)

	sched, jobs, err := setupScheduler(cfg, runsDB, runRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		RunsDB:    runsDB,
		Runs:      runRepo,
		Optimizer: optimizer,
		Jobs:      jobs,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	sched.Start()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	sched.Stop()

	log.Info().Msg("Server stopped")
}

// setupScheduler registers the retention job and, when a bucket is
// configured, the backup job.
func setupScheduler(cfg *config.Config, runsDB *database.DB, runRepo *runs.Repository, log zerolog.Logger) (*scheduler.Scheduler, []scheduler.Job, error) {
	sched := scheduler.New(log)

	retention := scheduler.NewRunRetentionJob(runRepo, runsDB, cfg.RunRetentionDays, log)
	if err := sched.AddJob(cfg.RetentionSchedule, retention); err != nil {
		return nil, nil, err
	}
	jobs := []scheduler.Job{retention}

	if !cfg.Backup.Enabled() {
		log.Info().Msg("Backups disabled (BACKUP_S3_BUCKET not set)")
		return sched, jobs, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := reliability.NewS3Client(ctx, reliability.S3Config{
		Bucket:          cfg.Backup.Bucket,
		Endpoint:        cfg.Backup.Endpoint,
		Region:          cfg.Backup.Region,
		AccessKeyID:     cfg.Backup.AccessKeyID,
		SecretAccessKey: cfg.Backup.SecretAccessKey,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	backups := reliability.NewBackupService(
		store,
		[]reliability.Snapshotter{runsDB},
		cfg.Backup.Prefix,
		filepath.Join(cfg.DataDir, "backups"),
		log,
	)
	backup := scheduler.NewRunsBackupJob(backups, cfg.Backup.Keep, log)
	if err := sched.AddJob(cfg.Backup.Schedule, backup); err != nil {
		return nil, nil, err
	}

	return sched, append(jobs, backup), nil
}
