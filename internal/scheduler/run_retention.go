package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/greenfolio/internal/database"
	"github.com/rs/zerolog"
)

// RunPruner deletes runs created before a cutoff. *runs.Repository satisfies it.
type RunPruner interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// RunRetentionJob deletes runs older than the retention window, then
// checkpoints the WAL, checks integrity and reclaims space when rows were removed.
type RunRetentionJob struct {
	runs      RunPruner
	db        *database.DB
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewRunRetentionJob creates a new RunRetentionJob
func NewRunRetentionJob(runs RunPruner, db *database.DB, retentionDays int, log zerolog.Logger) *RunRetentionJob {
	return &RunRetentionJob{
		runs:      runs,
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		log:       log.With().Str("job", "run_retention").Logger(),
	}
}

// Name returns the job name
func (j *RunRetentionJob) Name() string {
	return "run_retention"
}

// Run executes the retention job
func (j *RunRetentionJob) Run() error {
	startTime := time.Now()
	cutoff := j.now().Add(-j.retention)

	deleted, err := j.runs.DeleteOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}

	if j.db != nil {
		if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
			// Not critical; the next run retries.
			j.log.Warn().Err(err).Msg("WAL checkpoint failed")
		}
		if err := j.db.QuickCheck(context.Background()); err != nil {
			return fmt.Errorf("integrity check failed after pruning: %w", err)
		}
		if deleted > 0 {
			j.vacuum()
		}
	}

	j.log.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Run retention completed")
	return nil
}

func (j *RunRetentionJob) vacuum() {
	before, err := j.db.GetStats()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read database stats")
		return
	}
	if err := j.db.Vacuum(); err != nil {
		j.log.Warn().Err(err).Msg("VACUUM failed")
		return
	}
	after, err := j.db.GetStats()
	if err != nil {
		return
	}
	j.log.Info().
		Int64("pages_before", before.PageCount).
		Int64("pages_after", after.PageCount).
		Msg("VACUUM completed")
}
