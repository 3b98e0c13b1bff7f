package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// BackupUploader creates and rotates backups. *reliability.BackupService satisfies it.
type BackupUploader interface {
	CreateAndUpload(ctx context.Context) (string, error)
	Rotate(ctx context.Context, keep int) (int, error)
}

// RunsBackupJob uploads a snapshot of the runs database and rotates old backups.
type RunsBackupJob struct {
	backups BackupUploader
	keep    int
	timeout time.Duration
	log     zerolog.Logger
}

// NewRunsBackupJob creates a new RunsBackupJob
func NewRunsBackupJob(backups BackupUploader, keep int, log zerolog.Logger) *RunsBackupJob {
	return &RunsBackupJob{
		backups: backups,
		keep:    keep,
		timeout: 10 * time.Minute,
		log:     log.With().Str("job", "runs_backup").Logger(),
	}
}

// Name returns the job name
func (j *RunsBackupJob) Name() string {
	return "runs_backup"
}

// Run executes the backup job. A failed rotation is logged; the upload
// already succeeded.
func (j *RunsBackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	key, err := j.backups.CreateAndUpload(ctx)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	deleted, err := j.backups.Rotate(ctx, j.keep)
	if err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	j.log.Info().
		Str("key", key).
		Int("rotated", deleted).
		Msg("Runs backup completed")
	return nil
}
